package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

// Email template names, also used as metric labels.
const (
	TemplatePaymentConfirmed    = "payment_confirmed"
	TemplatePaymentFailed       = "payment_failed"
	TemplateSubscriptionOverdue = "subscription_overdue"
	TemplateSubscriptionEnded   = "subscription_ended"
	TemplateSubscriptionSuspend = "subscription_suspended"
	TemplateCardValidated       = "card_validated"
	TemplateOrderConfirmation   = "order_confirmation"
	TemplateSupportResponse     = "support_response"
)

const layout = `{{define "layout"}}<!DOCTYPE html>
<html lang="pt-BR"><body style="font-family:Arial,sans-serif;color:#222;max-width:600px;margin:0 auto">
{{template "body" .}}
<p style="color:#888;font-size:12px;margin-top:32px">Esta é uma mensagem automática, não responda este e-mail.</p>
</body></html>{{end}}`

var emailBodies = map[string]string{
	TemplatePaymentConfirmed: `{{define "body"}}<h2>Pagamento confirmado</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}!</p>
<p>Recebemos o pagamento de <strong>{{.Amount}}</strong> da sua assinatura. Sua loja segue ativa.</p>
{{if .LinkURL}}<p><a href="{{.LinkURL}}">Ver minha assinatura</a></p>{{end}}{{end}}`,

	TemplatePaymentFailed: `{{define "body"}}<h2>Não conseguimos processar seu pagamento</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}.</p>
<p>O pagamento de <strong>{{.Amount}}</strong> da sua assinatura foi recusado. Atualize sua forma de pagamento para evitar a suspensão da loja.</p>
{{if .LinkURL}}<p><a href="{{.LinkURL}}">Atualizar pagamento</a></p>{{end}}{{end}}`,

	TemplateSubscriptionOverdue: `{{define "body"}}<h2>Assinatura em atraso</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}.</p>
<p>Sua assinatura mensal está com pagamento pendente. Regularize para manter sua loja no ar.</p>
{{if .LinkURL}}<p><a href="{{.LinkURL}}">Regularizar agora</a></p>{{end}}{{end}}`,

	TemplateSubscriptionEnded: `{{define "body"}}<h2>Assinatura cancelada</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}.</p>
<p>Sua assinatura foi cancelada. Você pode reativá-la a qualquer momento pelo painel.</p>
{{if .LinkURL}}<p><a href="{{.LinkURL}}">Reativar assinatura</a></p>{{end}}{{end}}`,

	TemplateSubscriptionSuspend: `{{define "body"}}<h2>Loja suspensa</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}.</p>
<p>O período de carência terminou e sua loja foi suspensa. Efetue o pagamento para reativá-la.</p>
{{if .LinkURL}}<p><a href="{{.LinkURL}}">Efetuar pagamento</a></p>{{end}}{{end}}`,

	TemplateCardValidated: `{{define "body"}}<h2>Cartão cadastrado</h2>
<p>Olá{{if .StoreName}}, {{.StoreName}}{{end}}!</p>
<p>O cartão {{.CardBrand}} final {{.CardLastFour}} foi validado e será usado nas próximas cobranças.</p>{{end}}`,

	TemplateOrderConfirmation: `{{define "body"}}<h2>Pedido {{.OrderNumber}} confirmado</h2>
<p>Olá{{if .CustomerName}}, {{.CustomerName}}{{end}}! Obrigado por comprar na {{.StoreName}}.</p>
<table style="width:100%;border-collapse:collapse">
{{range .Items}}<tr><td>{{.Quantity}}x {{.Name}}</td><td style="text-align:right">{{.Total}}</td></tr>
{{end}}<tr><td><strong>Total</strong></td><td style="text-align:right"><strong>{{.Total}}</strong></td></tr>
</table>{{end}}`,

	TemplateSupportResponse: `{{define "body"}}<h2>Resposta ao seu chamado{{if .TicketNumber}} #{{.TicketNumber}}{{end}}</h2>
<p>Olá{{if .CustomerName}}, {{.CustomerName}}{{end}}.</p>
<p><em>{{.TicketSubject}}</em></p>
<div style="white-space:pre-line">{{.Response}}</div>{{end}}`,
}

var emailTemplates = mustParseEmailTemplates()

func mustParseEmailTemplates() map[string]*template.Template {
	parsed := make(map[string]*template.Template, len(emailBodies))
	for name, body := range emailBodies {
		tmpl := template.Must(template.New(name).Parse(layout))
		parsed[name] = template.Must(tmpl.Parse(body))
	}
	return parsed
}

// renderEmail executes a named template with data.
func renderEmail(name string, data interface{}) (string, error) {
	tmpl, ok := emailTemplates[name]
	if !ok {
		return "", fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// FormatBRL renders cents as a Brazilian real amount, e.g. 499000 -> "R$ 4.990,00".
func FormatBRL(cents int64) string {
	negative := cents < 0
	if negative {
		cents = -cents
	}
	reais := cents / 100
	centavos := cents % 100

	digits := fmt.Sprintf("%d", reais)
	var grouped strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	out := fmt.Sprintf("R$ %s,%02d", grouped.String(), centavos)
	if negative {
		out = "-" + out
	}
	return out
}
