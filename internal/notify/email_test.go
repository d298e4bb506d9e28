package notify

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type fakeSendGrid struct {
	mail   *mail.SGMailV3
	status int
	err    error
}

func (f *fakeSendGrid) SendWithContext(ctx context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.mail = m
	if f.err != nil {
		return nil, f.err
	}
	return &rest.Response{StatusCode: f.status}, nil
}

func confirmation() EmailMessage {
	return EmailMessage{
		To:       "asha@example.com",
		ToName:   "Asha",
		ReplyTo:  "front-desk@clinic.example",
		Subject:  "Appointment confirmed",
		Text:     "plain",
		HTML:     "<p>html</p>",
		Category: "appointment_confirmed",
		Tags:     map[string]string{"appointment_id": "a-1", "kind": "confirmed"},
	}
}

func TestNewSendGridSenderNilWithoutAPIKey(t *testing.T) {
	if NewSendGridSender(SendGridConfig{FromEmail: "bookings@example.com"}, nil) != nil {
		t.Error("expected nil sender when API key is empty")
	}
}

func TestNewSendGridSenderDefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "bookings@example.com"}, nil)
	if sender == nil {
		t.Fatal("expected non-nil sender")
	}
	if sender.fromName != "MediCareX" {
		t.Errorf("expected default from name, got %q", sender.fromName)
	}
}

func TestSendGridSenderBuildsMessage(t *testing.T) {
	client := &fakeSendGrid{status: http.StatusAccepted}
	sender := newSendGridSender(client, SendGridConfig{FromEmail: "bookings@example.com"}, nil)

	if err := sender.Send(context.Background(), confirmation()); err != nil {
		t.Fatalf("send: %v", err)
	}
	m := client.mail
	if m.From.Address != "bookings@example.com" || m.Subject != "Appointment confirmed" {
		t.Fatalf("unexpected header %+v", m.From)
	}
	if len(m.Personalizations) != 1 || m.Personalizations[0].To[0].Address != "asha@example.com" {
		t.Fatalf("unexpected recipients")
	}
	if m.Personalizations[0].CustomArgs["appointment_id"] != "a-1" {
		t.Errorf("custom args = %v", m.Personalizations[0].CustomArgs)
	}
	if len(m.Content) != 2 || m.Content[0].Type != "text/plain" || m.Content[1].Type != "text/html" {
		t.Errorf("unexpected content %+v", m.Content)
	}
	if len(m.Categories) != 1 || m.Categories[0] != "appointment_confirmed" {
		t.Errorf("categories = %v", m.Categories)
	}
	if m.ReplyTo == nil || m.ReplyTo.Address != "front-desk@clinic.example" {
		t.Errorf("reply-to = %+v", m.ReplyTo)
	}
}

func TestSendGridSenderClassifiesStatus(t *testing.T) {
	cases := []struct {
		status   int
		rejected bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusForbidden, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		sender := newSendGridSender(&fakeSendGrid{status: tc.status}, SendGridConfig{}, nil)
		err := sender.Send(context.Background(), confirmation())
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if errors.Is(err, ErrRejected) != tc.rejected {
			t.Errorf("status %d: rejected = %v, want %v", tc.status, errors.Is(err, ErrRejected), tc.rejected)
		}
	}
}

func TestSendGridSenderTransportError(t *testing.T) {
	sender := newSendGridSender(&fakeSendGrid{err: errors.New("dial tcp: timeout")}, SendGridConfig{}, nil)
	err := sender.Send(context.Background(), confirmation())
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStubEmailSenderSend(t *testing.T) {
	if err := NewStubEmailSender(nil).Send(context.Background(), confirmation()); err != nil {
		t.Errorf("stub sender should not return error, got: %v", err)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestNewSESSenderNilClient(t *testing.T) {
	if NewSESSender(nil, SESConfig{}, nil) != nil {
		t.Error("expected nil sender without a client")
	}
}

func TestSESSenderSend(t *testing.T) {
	client := &fakeSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "bookings@example.com", ConfigurationSet: "bookings"}, nil)

	if err := sender.Send(context.Background(), confirmation()); err != nil {
		t.Fatalf("send: %v", err)
	}
	in := client.input
	if got := aws.ToString(in.FromEmailAddress); got != "MediCareX <bookings@example.com>" {
		t.Errorf("from = %q", got)
	}
	if got := in.Destination.ToAddresses; len(got) != 1 || got[0] != "asha@example.com" {
		t.Errorf("to = %v", got)
	}
	body := in.Content.Simple.Body
	if aws.ToString(body.Text.Data) != "plain" || aws.ToString(body.Html.Data) != "<p>html</p>" {
		t.Errorf("unexpected body %+v", body)
	}
	if aws.ToString(in.ConfigurationSetName) != "bookings" || len(in.ReplyToAddresses) != 1 {
		t.Errorf("configuration set or reply-to missing")
	}
	if len(in.EmailTags) != 3 || aws.ToString(in.EmailTags[0].Name) != "category" {
		t.Errorf("tags = %+v", in.EmailTags)
	}
}

func TestSESSenderClassifiesErrors(t *testing.T) {
	rejected := &smithy.GenericAPIError{Code: "MessageRejected", Message: "Email address is not verified."}
	sender := NewSESSender(&fakeSES{err: rejected}, SESConfig{FromEmail: "bookings@example.com"}, nil)
	if err := sender.Send(context.Background(), confirmation()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}

	throttled := &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "slow down"}
	sender = NewSESSender(&fakeSES{err: throttled}, SESConfig{FromEmail: "bookings@example.com"}, nil)
	err := sender.Send(context.Background(), confirmation())
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
