package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"marketintel/internal/backtest"
	"marketintel/internal/domain"
	"marketintel/internal/perf"
)

func sampleRequest() backtest.Request {
	return backtest.Request{
		Symbols:        []string{"SPY", "TLT"},
		ModelType:      domain.ModelLinear,
		Start:          time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		End:            time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: 100000,
	}
}

func sampleResult() *backtest.Result {
	day := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	return &backtest.Result{
		ID: "run-1",
		Metrics: perf.Metrics{
			TotalReturn:  0.12,
			SharpeRatio:  1.1,
			ProfitFactor: perf.Ratio(1.8),
			Days:         1,
		},
		EquityCurve: []domain.EquityPoint{{Date: day, Value: 112000, Return: 0.12}},
		Trades: []domain.Trade{{
			Date: day, Symbol: "SPY", Action: domain.ActionBuy,
			Quantity: 10, Price: 380, Value: 3800, CostPaid: 3.8,
		}},
	}
}

func TestFingerprintStable(t *testing.T) {
	req := sampleRequest()
	opts := backtest.DefaultOptions()

	a := Fingerprint(req, opts)
	if len(a) != 64 {
		t.Fatalf("fingerprint length: got %d, want 64", len(a))
	}

	lower := req
	lower.Symbols = []string{"spy", " tlt"}
	lower.Start = req.Start.Add(5 * time.Hour)
	if got := Fingerprint(lower, opts); got != a {
		t.Errorf("normalised request changed fingerprint: got %s, want %s", got, a)
	}
	if got := Fingerprint(req, backtest.Options{}); got != a {
		t.Errorf("zero options should match defaults: got %s, want %s", got, a)
	}

	other := req
	other.ModelType = domain.ModelXGBoost
	if Fingerprint(other, opts) == a {
		t.Error("model type must change the fingerprint")
	}
	wider := opts
	wider.TrainingWindow = 500
	if Fingerprint(req, wider) == a {
		t.Error("training window must change the fingerprint")
	}
}

func TestRedisCacheGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, time.Hour)
	ctx := context.Background()

	t.Run("hit", func(t *testing.T) {
		data, _ := json.Marshal(sampleResult())
		mock.ExpectGet(Key("abc")).SetVal(string(data))

		res, ok, err := c.Get(ctx, "abc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			t.Fatal("expected hit")
		}
		if res.ID != "run-1" || len(res.Trades) != 1 || res.Metrics.ProfitFactor != 1.8 {
			t.Errorf("decoded result: got %+v", res)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
	})

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet(Key("missing")).RedisNil()

		res, ok, err := c.Get(ctx, "missing")
		if err != nil || ok || res != nil {
			t.Errorf("got (%v, %v, %v), want (nil, false, nil)", res, ok, err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("connection refused")
		mock.ExpectGet(Key("err")).SetErr(boom)

		if _, _, err := c.Get(ctx, "err"); !errors.Is(err, boom) {
			t.Errorf("got %v, want wrapped %v", err, boom)
		}
	})

	t.Run("corrupt", func(t *testing.T) {
		mock.ExpectGet(Key("bad")).SetVal("{not json")
		if _, _, err := c.Get(ctx, "bad"); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestRedisCacheSet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewRedisCache(db, 0)
	ctx := context.Background()

	res := sampleResult()
	data, _ := json.Marshal(res)
	mock.ExpectSet(Key("abc"), data, DefaultTTL).SetVal("OK")

	if err := c.Set(ctx, "abc", res); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}

	mock.ExpectSet(Key("abc"), data, DefaultTTL).SetErr(errors.New("readonly"))
	if err := c.Set(ctx, "abc", res); err == nil {
		t.Error("expected error from Set")
	}
}
