package http

import (
	"bytes"
	"encoding/json"
	"html/template"
	"math/big"

	"github.com/blip-x402/x402-demo/mechanisms/evm"
	"github.com/blip-x402/x402-demo/types"
)

// PaywallConfig customizes the page shown to browsers hitting a protected route
type PaywallConfig struct {
	AppName string
	AppLogo string
	Testnet bool
}

type paywallOption struct {
	Network string
	Amount  string
	Asset   string
	PayTo   string
}

type paywallData struct {
	Config      PaywallConfig
	Resource    *types.ResourceInfo
	Options     []paywallOption
	PaymentJSON template.JS
}

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{if .Config.AppName}}{{.Config.AppName}} - {{end}}Payment Required</title>
</head>
<body>
{{if .Config.AppLogo}}<img src="{{.Config.AppLogo}}" alt="logo" height="48">{{end}}
<h1>Payment Required</h1>
{{with .Resource}}<p>{{if .Description}}{{.Description}}{{else}}{{.URL}}{{end}}</p>{{end}}
<ul>
{{range .Options}}<li>{{.Amount}} {{.Asset}} on {{.Network}} to <code>{{.PayTo}}</code></li>
{{end}}</ul>
{{if .Config.Testnet}}<p>Testnet: no real funds are moved.</p>{{end}}
<p>Use an x402 client to pay for this resource.</p>
<script>window.x402 = {{.PaymentJSON}};</script>
</body>
</html>
`))

// RenderPaywall renders the browser page for a 402 answer
func RenderPaywall(required types.PaymentRequired, config *PaywallConfig) (string, error) {
	data := paywallData{Resource: required.Resource}
	if config != nil {
		data.Config = *config
	}

	for _, req := range required.Accepts {
		option := paywallOption{Network: req.Network, Amount: req.Amount, Asset: req.Asset, PayTo: req.PayTo}
		if info, err := evm.GetAssetInfo(req.Network, req.Asset); err == nil {
			if amount, ok := new(big.Int).SetString(req.Amount, 10); ok {
				option.Amount = evm.FormatAmount(amount, info.Decimals)
				option.Asset = info.Name
			}
		}
		data.Options = append(data.Options, option)
	}

	paymentJSON, err := json.Marshal(required)
	if err != nil {
		return "", err
	}
	data.PaymentJSON = template.JS(paymentJSON)

	var buf bytes.Buffer
	if err := paywallTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
