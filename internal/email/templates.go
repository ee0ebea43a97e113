package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// CartKept describes the cart a guest brought with them when signing in
type CartKept struct {
	Email       string
	GuestLines  int
	MergedLines int
	CartLines   int
}

var cartKeptTmpl = template.Must(template.New("cart-kept").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
	<div style="background: #8a5a44; padding: 24px; border-radius: 10px 10px 0 0;">
		<h1 style="color: white; margin: 0; font-size: 22px;">We kept your cart</h1>
	</div>
	<div style="background: #fff; padding: 24px; border: 1px solid #eee; border-top: none; border-radius: 0 0 10px 10px;">
		<p style="margin-top: 0;">Hi {{.Email}},</p>
		<p>You added {{.GuestLines}} {{if eq .GuestLines 1}}item{{else}}items{{end}} to your cart before signing in. They are now saved to your account{{if .MergedLines}}, and {{.MergedLines}} of them joined pieces you had already picked{{end}}.</p>
		<p>Your cart now holds {{.CartLines}} {{if eq .CartLines 1}}line{{else}}lines{{end}}. Prices stay at what they were when you added each piece.</p>
		<hr style="border: none; border-top: 1px solid #eee; margin: 24px 0;">
		<p style="font-size: 12px; color: #999; margin-bottom: 0;">This message was sent automatically by ArtisanHub.</p>
	</div>
</body>
</html>`))

// BuildCartKept renders the "we kept your cart" message
func BuildCartKept(data CartKept) (Message, error) {
	var html bytes.Buffer
	if err := cartKeptTmpl.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render cart-kept email: %w", err)
	}

	text := fmt.Sprintf("We kept your cart: %d item(s) you added as a guest are now saved to your account. Your cart holds %d line(s).",
		data.GuestLines, data.CartLines)

	return Message{
		To:      data.Email,
		Subject: "We kept your cart",
		HTML:    html.String(),
		Text:    text,
	}, nil
}
