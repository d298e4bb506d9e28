package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/wolfman30/medicarex-booking/internal/events"
	"github.com/wolfman30/medicarex-booking/pkg/logging"
)

// S3API is the slice of the S3 client the receipt store uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Receipt is the record of money moving for an appointment.
type Receipt struct {
	AppointmentID uuid.UUID               `json:"appointment_id"`
	Kind          events.NotificationKind `json:"kind"`
	PatientID     string                  `json:"patient_id"`
	DoctorID      string                  `json:"doctor_id"`
	HospitalID    string                  `json:"hospital_id"`
	Amount        int64                   `json:"amount"`
	Currency      string                  `json:"currency"`
	Gateway       string                  `json:"gateway,omitempty"`
	OrderRef      string                  `json:"order_ref,omitempty"`
	SlotDate      string                  `json:"slot_date"`
	SlotStart     string                  `json:"slot_start"`
	IssuedAt      time.Time               `json:"issued_at"`
}

// ReceiptStore persists receipts.
type ReceiptStore interface {
	Put(ctx context.Context, r Receipt) (string, error)
}

// S3ReceiptStore writes receipts as JSON objects.
type S3ReceiptStore struct {
	bucket string
	client S3API
	logger *logging.Logger
}

func NewS3ReceiptStore(client S3API, bucket string, logger *logging.Logger) *S3ReceiptStore {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3ReceiptStore{bucket: bucket, client: client, logger: logger}
}

// Enabled reports whether receipts can be written.
func (s *S3ReceiptStore) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

// ReceiptKey is receipts/<yyyy>/<mm>/<appointment>-<kind>.json, bucketed by issue date.
func ReceiptKey(r Receipt) string {
	at := r.IssuedAt.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%s-%s.json", at.Year(), int(at.Month()), r.AppointmentID, r.Kind)
}

// Put writes r and returns its key. Rewriting the same receipt overwrites
// the same object.
func (s *S3ReceiptStore) Put(ctx context.Context, r Receipt) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("notify: marshal receipt: %w", err)
	}
	key := ReceiptKey(r)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("notify: s3 put %s: %w", key, err)
	}
	s.logger.Debug("receipt stored", "key", key, "appointment_id", r.AppointmentID)
	return key, nil
}
