package broker

import (
	"context"
	"reflect"
	"testing"
	"time"

	"tradegate/internal/errors"
	"tradegate/internal/marketdata"
	"tradegate/internal/models"
)

// stubClient is a no-op Client with a fixed id, just enough for registry
// tests.
type stubClient struct {
	id string
}

func (s *stubClient) BrokerID() string { return s.id }

func (s *stubClient) Capabilities() models.CapabilitySet {
	return models.NewCapabilitySet(models.CapabilityPlaceOrder)
}

func (s *stubClient) Authenticate(ctx context.Context, accountID string) (models.AuthToken, error) {
	return models.AuthToken{}, nil
}

func (s *stubClient) PlaceOrder(ctx context.Context, accountID string, req models.OrderRequest) (models.OrderResponse, error) {
	return models.OrderResponse{}, nil
}

func (s *stubClient) CancelOrder(ctx context.Context, accountID, brokerOrderID string) error {
	return errors.ErrNotSupported
}

func (s *stubClient) GetOrderStatus(ctx context.Context, accountID, brokerOrderID string) (models.OrderStatus, error) {
	return models.OrderStatus{}, errors.ErrNotSupported
}

func (s *stubClient) GetPositions(ctx context.Context, accountID string) ([]models.Position, error) {
	return nil, nil
}

func (s *stubClient) GetHistoricalCandles(ctx context.Context, accountID, symbol string, interval models.Interval, from, to time.Time) (models.CandleSeries, error) {
	return models.CandleSeries{}, nil
}

func (s *stubClient) ValidateCredentials(ctx context.Context, rawCredentials []byte) error {
	return nil
}

func (s *stubClient) StreamTicks(ctx context.Context, accountID, instrumentToken string) (*marketdata.Subscription, error) {
	return nil, errors.ErrNotSupported
}

func TestRegistryGet(t *testing.T) {
	reg, err := NewRegistry(&stubClient{id: "angelone"}, &stubClient{id: "dhan"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	c, err := reg.Get("dhan")
	if err != nil {
		t.Fatalf("Get(dhan) error = %v", err)
	}
	if c.BrokerID() != "dhan" {
		t.Errorf("BrokerID() = %q, want dhan", c.BrokerID())
	}
}

func TestRegistryGetUnknownBroker(t *testing.T) {
	reg, err := NewRegistry(&stubClient{id: "angelone"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	_, err = reg.Get("unknownBroker")
	var ubErr *errors.UnknownBrokerError
	if !errors.As(err, &ubErr) {
		t.Fatalf("Get(unknownBroker) = %v, want *UnknownBrokerError", err)
	}
	if ubErr.BrokerID != "unknownBroker" {
		t.Errorf("BrokerID = %q, want unknownBroker", ubErr.BrokerID)
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	_, err := NewRegistry(&stubClient{id: "dhan"}, &stubClient{id: "dhan"})
	if err == nil {
		t.Fatal("NewRegistry() with duplicate ids = nil error, want failure")
	}
}

func TestRegistryIDsSorted(t *testing.T) {
	reg, err := NewRegistry(&stubClient{id: "fyers"}, &stubClient{id: "angelone"}, &stubClient{id: "dhan"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	want := []string{"angelone", "dhan", "fyers"}
	if got := reg.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if !reg.Has("fyers") || reg.Has("zerodha") {
		t.Error("Has() mismatch")
	}
}
