package builtins

import (
	"marketintel/internal/domain"
	"marketintel/internal/model"
)

// Config holds the hyper-parameters of the builtin models. Zero fields
// take the values from DefaultConfig.
type Config struct {
	RidgeAlpha float64 `yaml:"ridge_alpha"`

	ForestTrees    int `yaml:"forest_trees"`
	ForestMaxDepth int `yaml:"forest_max_depth"`
	ForestMinSplit int `yaml:"forest_min_split"`

	BoostRounds       int     `yaml:"boost_rounds"`
	BoostMaxDepth     int     `yaml:"boost_max_depth"`
	BoostLearningRate float64 `yaml:"boost_learning_rate"`
	BoostLambda       float64 `yaml:"boost_lambda"`

	Lookback int `yaml:"lookback"`
}

// DefaultConfig returns the stock hyper-parameters.
func DefaultConfig() Config {
	return Config{
		RidgeAlpha:        1.0,
		ForestTrees:       100,
		ForestMaxDepth:    10,
		ForestMinSplit:    5,
		BoostRounds:       100,
		BoostMaxDepth:     5,
		BoostLearningRate: 0.01,
		BoostLambda:       1.0,
		Lookback:          20,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.RidgeAlpha <= 0 {
		c.RidgeAlpha = d.RidgeAlpha
	}
	if c.ForestTrees <= 0 {
		c.ForestTrees = d.ForestTrees
	}
	if c.ForestMaxDepth <= 0 {
		c.ForestMaxDepth = d.ForestMaxDepth
	}
	if c.ForestMinSplit <= 0 {
		c.ForestMinSplit = d.ForestMinSplit
	}
	if c.BoostRounds <= 0 {
		c.BoostRounds = d.BoostRounds
	}
	if c.BoostMaxDepth <= 0 {
		c.BoostMaxDepth = d.BoostMaxDepth
	}
	if c.BoostLearningRate <= 0 {
		c.BoostLearningRate = d.BoostLearningRate
	}
	if c.BoostLambda <= 0 {
		c.BoostLambda = d.BoostLambda
	}
	if c.Lookback <= 1 {
		c.Lookback = d.Lookback
	}
	return c
}

// Register adds every builtin variant to reg.
func Register(reg *model.Registry, cfg Config) {
	cfg = cfg.WithDefaults()

	newForest := func(seed int64) *RandomForest {
		return NewRandomForest(cfg.ForestTrees, cfg.ForestMaxDepth, cfg.ForestMinSplit, seed)
	}
	newBoost := func(seed int64) *GradientBoosting {
		return NewGradientBoosting(cfg.BoostRounds, cfg.BoostMaxDepth, cfg.BoostLearningRate, cfg.BoostLambda, seed)
	}

	reg.Register(domain.ModelLinear, func(int64) model.Model {
		return NewLinear(cfg.RidgeAlpha)
	})
	reg.Register(domain.ModelRandomForest, func(seed int64) model.Model {
		return newForest(seed)
	})
	reg.Register(domain.ModelXGBoost, func(seed int64) model.Model {
		return newBoost(seed)
	})
	reg.Register(domain.ModelLSTM, func(int64) model.Model {
		return NewSequence(cfg.Lookback, cfg.RidgeAlpha)
	})
	reg.Register(domain.ModelEnsemble, func(seed int64) model.Model {
		return NewEnsemble(NewLinear(cfg.RidgeAlpha),
			NewLinear(cfg.RidgeAlpha),
			newForest(seed),
			newBoost(seed),
		)
	})
}

// NewRegistry returns a registry holding every builtin variant.
func NewRegistry(cfg Config) *model.Registry {
	reg := model.NewRegistry()
	Register(reg, cfg)
	return reg
}
