package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/example/artisanhub/internal/config"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSender_Send(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotBody string

	s := NewSMTPSender("mail.local", "1025", "noreply@artisanhub.example", "ArtisanHub")
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, string(msg)
		return nil
	}

	err := s.Send(context.Background(), Message{To: "maker@example.com", Subject: "Hello", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:1025", gotAddr)
	assert.Equal(t, "noreply@artisanhub.example", gotFrom)
	assert.Equal(t, []string{"maker@example.com"}, gotTo)
	assert.Contains(t, gotBody, "From: ArtisanHub <noreply@artisanhub.example>\r\n")
	assert.Contains(t, gotBody, "Subject: Hello\r\n")
	assert.Contains(t, gotBody, "\r\n\r\n<p>hi</p>")
}

func TestSMTPSender_Errors(t *testing.T) {
	s := NewSMTPSender("mail.local", "1025", "noreply@artisanhub.example", "")
	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := s.Send(context.Background(), Message{Subject: "no one"})
	assert.ErrorIs(t, err, ErrMissingRecipient)

	err = s.Send(context.Background(), Message{To: "maker@example.com"})
	assert.ErrorContains(t, err, "connection refused")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Send(ctx, Message{To: "maker@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeSendGrid struct {
	sent   []*mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, m)
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status, Body: "{}"}, nil
}

func TestSendGridSender_Send(t *testing.T) {
	fake := &fakeSendGrid{status: 202}
	s := NewSendGridSender("key", "noreply@artisanhub.example", "ArtisanHub")
	s.client = fake

	err := s.Send(context.Background(), Message{To: "maker@example.com", Subject: "Hello", HTML: "<p>hi</p>", Text: "hi"})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	assert.Equal(t, "Hello", fake.sent[0].Subject)
	assert.Equal(t, "noreply@artisanhub.example", fake.sent[0].From.Address)
	assert.Equal(t, "ArtisanHub", fake.sent[0].From.Name)
}

func TestSendGridSender_Failures(t *testing.T) {
	s := NewSendGridSender("key", "noreply@artisanhub.example", "ArtisanHub")

	s.client = &fakeSendGrid{status: 401}
	assert.ErrorContains(t, s.Send(context.Background(), Message{To: "a@example.com"}), "status=401")

	s.client = &fakeSendGrid{err: errors.New("timeout")}
	assert.ErrorContains(t, s.Send(context.Background(), Message{To: "a@example.com"}), "timeout")

	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrMissingRecipient)
}

func TestFromConfig(t *testing.T) {
	s, err := FromConfig(config.EmailConfig{Provider: "smtp", SMTPHost: "localhost", SMTPPort: "25"})
	require.NoError(t, err)
	assert.IsType(t, &SMTPSender{}, s)

	s, err = FromConfig(config.EmailConfig{Provider: "sendgrid", SendGridKey: "SG.key"})
	require.NoError(t, err)
	assert.IsType(t, &SendGridSender{}, s)

	_, err = FromConfig(config.EmailConfig{Provider: "sendgrid"})
	assert.Error(t, err)

	_, err = FromConfig(config.EmailConfig{Provider: "pigeon"})
	assert.Error(t, err)
}

func TestBuildCartKept(t *testing.T) {
	msg, err := BuildCartKept(CartKept{Email: "maker@example.com", GuestLines: 2, MergedLines: 1, CartLines: 3})
	require.NoError(t, err)

	assert.Equal(t, "maker@example.com", msg.To)
	assert.Equal(t, "We kept your cart", msg.Subject)
	assert.Contains(t, msg.HTML, "You added 2 items")
	assert.Contains(t, msg.HTML, "1 of them joined")
	assert.Contains(t, msg.HTML, "holds 3 lines")
	assert.Contains(t, msg.Text, "2 item(s)")

	single, err := BuildCartKept(CartKept{Email: "<script>@example.com", GuestLines: 1, CartLines: 1})
	require.NoError(t, err)
	assert.Contains(t, single.HTML, "You added 1 item to")
	assert.NotContains(t, single.HTML, "joined")
	assert.NotContains(t, single.HTML, "<script>")
}
