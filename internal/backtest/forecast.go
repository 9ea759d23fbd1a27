package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"marketintel/internal/domain"
	"marketintel/internal/model"
	"marketintel/internal/signal"
)

// topFeatureCount is the number of importances reported per forecast.
const topFeatureCount = 5

// ForecastRequest asks for next-horizon predictions as of a date.
type ForecastRequest struct {
	Symbols   []string         `json:"symbols"`
	ModelType domain.ModelType `json:"model_type"`
	AsOf      time.Time        `json:"as_of"` // zero means today
}

// FeatureWeight is one entry of a model's feature importance.
type FeatureWeight struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Forecast is the prediction for one symbol.
type Forecast struct {
	Symbol          string            `json:"symbol"`
	Date            time.Time         `json:"date"` // date of the feature row predicted from
	PredictedReturn float64           `json:"predicted_return"`
	ZScore          float64           `json:"z_score"`
	TargetPosition  float64           `json:"target_position"`
	Signal          domain.SignalType `json:"signal"`
	Confidence      float64           `json:"confidence"`
	TrainRows       int               `json:"train_rows"`
	TopFeatures     []FeatureWeight   `json:"top_features,omitempty"`
}

// ForecastResult holds the forecasts of one request in symbol order.
type ForecastResult struct {
	ModelType domain.ModelType `json:"model_type"`
	AsOf      time.Time        `json:"as_of"`
	Forecasts []Forecast       `json:"forecasts"`
}

// Forecast fits one model per symbol on the trailing training window
// ending at req.AsOf and predicts the return over the next horizon from
// the latest available feature row.
func (r *Runner) Forecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	opts := r.opts
	vreq := Request{
		Symbols:        req.Symbols,
		ModelType:      req.ModelType,
		Start:          time.Unix(0, 0),
		End:            time.Now(),
		InitialCapital: 1,
	}
	if err := vreq.Validate(); err != nil {
		return nil, err
	}
	vreq = vreq.Normalized()
	if !r.registry.Has(vreq.ModelType) {
		return nil, &domain.ValidationError{Field: "model_type", Message: fmt.Sprintf("model type %q is not registered", vreq.ModelType)}
	}
	if err := r.checkCatalog(ctx, vreq.Symbols); err != nil {
		return nil, err
	}

	asOf := domain.DateOf(req.AsOf)
	if req.AsOf.IsZero() {
		asOf = domain.DateOf(time.Now())
	}
	// Calendar span covering the training window, the warm-up lookback
	// and the horizon.
	spanDays := (opts.TrainingWindow+opts.Horizon)*7/5 + opts.LookbackDays + 7
	from := asOf.AddDate(0, 0, -spanDays)
	trainFrom := asOf.AddDate(0, 0, -opts.TrainingWindow*7/5)

	benchmark := chooseBenchmark(vreq.Symbols, opts.Benchmark)
	_, data, fe, err := r.load(ctx, vreq.Symbols, benchmark, from, asOf, opts)
	if err != nil {
		return nil, err
	}

	names := fe.Names()
	out := &ForecastResult{ModelType: vreq.ModelType, AsOf: asOf}
	for _, sym := range vreq.Symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := r.forecastOne(vreq.ModelType, data[sym], trainFrom, asOf, opts, names)
		if err != nil {
			return nil, err
		}
		out.Forecasts = append(out.Forecasts, f)
	}
	return out, nil
}

func (r *Runner) forecastOne(mt domain.ModelType, s *series, trainFrom, asOf time.Time, opts Options, names []string) (Forecast, error) {
	fail := func(err error) error {
		return &domain.FitError{
			Model: mt, WindowStart: trainFrom, WindowEnd: asOf,
			Err: fmt.Errorf("%s: %w", s.symbol, err),
		}
	}

	var latest *sample
	for i := len(s.samples) - 1; i >= 0; i-- {
		if !s.samples[i].date.After(asOf) {
			latest = &s.samples[i]
			break
		}
	}
	if latest == nil {
		return Forecast{}, &domain.DataIntegrityError{Symbol: s.symbol, Date: asOf, Message: "no feature row on or before the forecast date"}
	}

	// Rows whose target settled by asOf are known at asOf.
	X, y, _, last := s.trainingSet(trainFrom, asOf.AddDate(0, 0, 1), false)
	if len(X) < opts.MinTrainRows {
		return Forecast{}, fail(fmt.Errorf("%d training rows, need %d", len(X), opts.MinTrainRows))
	}
	m, err := r.registry.New(mt, opts.Seed)
	if err != nil {
		return Forecast{}, fail(err)
	}
	if err := m.Fit(X, y); err != nil {
		return Forecast{}, fail(err)
	}

	// In-sample predictions on the most recent rows form the scaling
	// distribution. Recurrent models replay the training rows from a reset
	// state and then run through the rows up to the forecast date, so the
	// state stays continuous and every readout is recorded.
	var dist []float64
	if seq, ok := m.(model.Sequential); ok {
		seq.Reset()
		for _, rows := range [][][]float64{X, s.between(last, latest.date)} {
			for _, x := range rows {
				p, err := seq.Predict(x)
				if err != nil {
					return Forecast{}, fail(err)
				}
				dist = append(dist, p)
			}
		}
	} else {
		for _, x := range X[max(0, len(X)-opts.SignalWindow+1):] {
			p, err := m.Predict(x)
			if err != nil {
				return Forecast{}, fail(err)
			}
			dist = append(dist, p)
		}
	}
	dist = dist[max(0, len(dist)-opts.SignalWindow+1):]

	p, err := m.Predict(latest.values)
	if err == nil && (math.IsNaN(p) || math.IsInf(p, 0)) {
		err = fmt.Errorf("non-finite prediction %v", p)
	}
	if err != nil {
		return Forecast{}, fail(err)
	}
	dec := signal.Translate(p, append(dist, p))

	f := Forecast{
		Symbol:          s.symbol,
		Date:            latest.date,
		PredictedReturn: p,
		ZScore:          dec.ZScore,
		TargetPosition:  dec.TargetPosition,
		Signal:          dec.Label,
		Confidence:      dec.Confidence,
		TrainRows:       len(X),
	}
	if ex, ok := m.(model.Explainer); ok {
		f.TopFeatures = topFeatures(names, ex.FeatureImportance(), topFeatureCount)
	}
	return f, nil
}

// topFeatures returns the n largest importances, ties broken by name.
func topFeatures(names []string, importance []float64, n int) []FeatureWeight {
	var out []FeatureWeight
	for i, w := range importance {
		if i >= len(names) || w <= 0 {
			continue
		}
		out = append(out, FeatureWeight{Name: names[i], Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
