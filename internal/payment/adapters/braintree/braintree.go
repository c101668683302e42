package braintree

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/smallbiznis/tumblebus/internal/money"
	paymentdomain "github.com/smallbiznis/tumblebus/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "braintree"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	publicKey, _ := readString(cfg.Config, "public_key")
	privateKey, _ := readString(cfg.Config, "private_key")
	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	if publicKey == "" || privateKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	return &Adapter{
		publicKey:  publicKey,
		privateKey: privateKey,
	}, nil
}

type Adapter struct {
	publicKey  string
	privateKey string
}

// Verify checks bt_signature against bt_payload. The signature holds one or
// more "public_key|hex_hmac" pairs joined by "&".
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return paymentdomain.ErrInvalidPayload
	}

	signature := values.Get("bt_signature")
	content := values.Get("bt_payload")
	if signature == "" || content == "" {
		return paymentdomain.ErrInvalidPayload
	}

	expected := Sign(a.privateKey, content)
	for _, pair := range strings.Split(signature, "&") {
		parts := strings.SplitN(pair, "|", 2)
		if len(parts) != 2 || parts[0] != a.publicKey {
			continue
		}
		if hmac.Equal([]byte(strings.ToLower(parts[1])), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Sign computes the hex HMAC-SHA1 of content keyed by sha1(privateKey).
func Sign(privateKey string, content string) string {
	key := sha1.Sum([]byte(privateKey))
	mac := hmac.New(sha1.New, key[:])
	_, _ = mac.Write([]byte(content))
	return hex.EncodeToString(mac.Sum(nil))
}

type notification struct {
	XMLName   xml.Name            `xml:"notification"`
	Kind      string              `xml:"kind"`
	Timestamp string              `xml:"timestamp"`
	Subject   notificationSubject `xml:"subject"`
}

type notificationSubject struct {
	Transaction *transaction `xml:"transaction"`
}

type transaction struct {
	ID         string `xml:"id"`
	Amount     string `xml:"amount"`
	Currency   string `xml:"currency-iso-code"`
	OrderID    string `xml:"order-id"`
	Email      string `xml:"customer>email"`
}

// Parse decodes the base64 XML notification carried in bt_payload.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	encoded := values.Get("bt_payload")
	if encoded == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	var n notification
	if err := xml.Unmarshal(raw, &n); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	kind := strings.TrimSpace(n.Kind)
	if kind == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	switch kind {
	case "transaction_settled":
		eventType = paymentdomain.EventTypePaymentSucceeded
	case "transaction_settlement_declined":
		eventType = paymentdomain.EventTypePaymentFailed
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	tx := n.Subject.Transaction
	if tx == nil || strings.TrimSpace(tx.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	amount, err := money.ParseCents(tx.Amount)
	if err != nil {
		return nil, paymentdomain.ErrInvalidAmount
	}

	var enrollmentID snowflake.ID
	if id, err := snowflake.ParseString(strings.TrimSpace(tx.OrderID)); err == nil {
		enrollmentID = id
	}

	occurredAt := parseTime(n.Timestamp)
	return &paymentdomain.PaymentEvent{
		Provider: "braintree",
		// Notifications carry no id of their own.
		ProviderEventID:   kind + ":" + tx.ID + ":" + strings.TrimSpace(n.Timestamp),
		ProviderPaymentID: tx.ID,
		Type:              eventType,
		EnrollmentID:      enrollmentID,
		CheckoutReference: tx.ID,
		Email:             strings.TrimSpace(tx.Email),
		Amount:            amount,
		Currency:          strings.ToUpper(strings.TrimSpace(tx.Currency)),
		OccurredAt:        occurredAt,
		RawPayload:        payload,
	}, nil
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Now().UTC()
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	val, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := val.(string)
	return s, ok
}
