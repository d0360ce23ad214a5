package kis

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/beta0629/stock-trading-system-sub000/internal/domain"
)

// Wire structures for the KIS open API. Field names mirror the API's own
// vocabulary; everything is normalized to domain types before leaving this
// package.

type tokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type hashkeyResponse struct {
	Hash string `json:"HASH"`
}

type approvalResponse struct {
	ApprovalKey string `json:"approval_key"`
}

// apiEnvelope carries the result-code header every KIS response starts with.
type apiEnvelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e apiEnvelope) ok() bool { return e.RtCd == "0" }

type orderResponse struct {
	apiEnvelope
	Output struct {
		OrderNo string `json:"ODNO"`
		OrgNo   string `json:"KRX_FWDG_ORD_ORGNO"`
		OrderAt string `json:"ORD_TMD"`
	} `json:"output"`
}

type balanceResponse struct {
	apiEnvelope
	Output1 []positionRow `json:"output1"`
	Output2 []struct {
		CashBalance  string `json:"dnca_tot_amt"`
		Orderable    string `json:"prvs_rcdl_excc_amt"`
		TotalEval    string `json:"tot_evlu_amt"`
		PurchaseAmt  string `json:"pchs_amt_smtl_amt"`
		EvalPnLTotal string `json:"evlu_pfls_smtl_amt"`
	} `json:"output2"`
}

type positionRow struct {
	Symbol       string `json:"pdno"`
	Name         string `json:"prdt_name"`
	HoldingQty   string `json:"hldg_qty"`
	AvgPrice     string `json:"pchs_avg_pric"`
	CurrentPrice string `json:"prpr"`
}

type priceResponse struct {
	apiEnvelope
	Output struct {
		Price string `json:"stck_prpr"`
	} `json:"output"`
}

type overseasPriceResponse struct {
	apiEnvelope
	Output struct {
		Last string `json:"last"`
	} `json:"output"`
}

// dec parses a KIS numeric string. Blank fields come back as zero; the API
// ships empty strings for unset amounts.
func dec(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func (r positionRow) toDomain(market domain.Market) domain.Position {
	return domain.Position{
		Symbol:       r.Symbol,
		Name:         r.Name,
		Market:       market,
		Quantity:     dec(r.HoldingQty).IntPart(),
		AvgPrice:     dec(r.AvgPrice),
		CurrentPrice: dec(r.CurrentPrice),
	}
}
