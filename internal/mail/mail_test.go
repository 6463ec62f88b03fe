package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "github.com/wneessen/go-mail"
)

type fakeSender struct {
	sent []*gomail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, messages ...*gomail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func render(t *testing.T, m *gomail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestSMTPMailer_Send(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		wantType string
	}{
		{
			name:     "html notification",
			msg:      Message{To: "member@example.com", Subject: "New Event: Open Gym", Body: "<p>hi</p>", HTML: true},
			wantType: "text/html",
		},
		{
			name:     "plain summary",
			msg:      Message{To: "member@example.com", Subject: "Hours Summary", Body: "Total hours: 5.5"},
			wantType: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeSender{}
			m := &SMTPMailer{from: "bot@example.com", client: fake}

			require.NoError(t, m.Send(context.Background(), tt.msg))
			require.Len(t, fake.sent, 1)

			raw := render(t, fake.sent[0])
			assert.Contains(t, raw, "Subject: "+tt.msg.Subject)
			assert.Contains(t, raw, "<member@example.com>")
			assert.Contains(t, raw, "<bot@example.com>")
			assert.Contains(t, raw, tt.wantType)
		})
	}
}

func TestSMTPMailer_SendFailure(t *testing.T) {
	relayErr := errors.New("535 authentication failed")
	m := &SMTPMailer{from: "bot@example.com", client: &fakeSender{err: relayErr}}

	err := m.Send(context.Background(), Message{To: "member@example.com", Subject: "s", Body: "b"})

	var derr *DeliveryError
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "member@example.com", derr.To)
	assert.ErrorIs(t, err, relayErr)
}

func TestSMTPMailer_InvalidRecipient(t *testing.T) {
	fake := &fakeSender{}
	m := &SMTPMailer{from: "bot@example.com", client: fake}

	err := m.Send(context.Background(), Message{To: "not an address", Subject: "s", Body: "b"})

	var derr *DeliveryError
	assert.True(t, errors.As(err, &derr))
	assert.Empty(t, fake.sent)
}

func TestNewSMTPMailer(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot@example.com",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "bot@example.com", m.from)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, LogMailer{}.Send(context.Background(), Message{To: "a@example.com", Subject: "s"}))
}
