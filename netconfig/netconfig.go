// Package netconfig parses the nested network/solver descriptor with
// gopkg.in/yaml.v3. Decoding is strict (KnownFields) so a typo'd field
// name is a load error rather than silently ignored.
package netconfig

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Phase selects which of a layer's "include" blocks applies: TRAIN
// layers (e.g. DROPOUT) are skipped entirely when building a TEST
// network.
type Phase string

const (
	PhaseTrain Phase = "TRAIN"
	PhaseTest  Phase = "TEST"
)

// NetConfig is the top-level network descriptor: an ordered list of
// layers plus the training hyperparameters.
type NetConfig struct {
	Net    Net    `yaml:"net"`
	Solver Solver `yaml:"solver"`
}

type Net struct {
	Name   string  `yaml:"name"`
	Layers []Layer `yaml:"layer"`
}

// Layer mirrors the source descriptor's per-layer block: a type tag
// selects which *_param sub-struct is meaningful; unused ones are left
// zero.
type Layer struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Include *Include `yaml:"include"`

	Data         *DataParam         `yaml:"data_param"`
	Convolution  *ConvolutionParam  `yaml:"convolution_param"`
	InnerProduct *InnerProductParam `yaml:"inner_product_param"`
	Pooling      *PoolingParam      `yaml:"pooling_param"`
	LRN          *LRNParam          `yaml:"lrn_param"`
	Dropout      *DropoutParam      `yaml:"dropout_param"`
}

type Include struct {
	Phase Phase `yaml:"phase"`
}

// DataParam describes the first layer's shape, seeding (iR, iC, iD, B)
// for everything downstream.
type DataParam struct {
	NumRows   int    `yaml:"n_rows"`
	NumCols   int    `yaml:"n_cols"`
	Dim       int    `yaml:"dim"`
	BatchSize int    `yaml:"batch_size"`
	Source    string `yaml:"source"`
}

type ConvolutionParam struct {
	KernelSize int `yaml:"kernel_size"`
	Pad        int `yaml:"pad"`
	Stride     int `yaml:"stride"`
	NumOutput  int `yaml:"num_output"`
	Group      int `yaml:"group"`
}

type InnerProductParam struct {
	NumOutput int `yaml:"num_output"`
}

type PoolingParam struct {
	KernelSize int `yaml:"kernel_size"`
	Stride     int `yaml:"stride"`
}

type LRNParam struct {
	LocalSize int     `yaml:"local_size"`
	Alpha     float32 `yaml:"alpha"`
	Beta      float32 `yaml:"beta"`
}

type DropoutParam struct {
	DropoutRatio float32 `yaml:"dropout_ratio"`
}

// Solver holds the training-loop hyperparameters: base_lr, momentum,
// policy (e.g. "step" with stepsize and gamma), and weight_decay.
type Solver struct {
	BaseLR          float32 `yaml:"base_lr"`
	Momentum        float32 `yaml:"momentum"`
	WeightDecay     float32 `yaml:"weight_decay"`
	LRPolicy        string  `yaml:"lr_policy"`
	StepSize        int     `yaml:"stepsize"`
	Gamma           float32 `yaml:"gamma"`
	MaxIter         int     `yaml:"max_iter"`
	NumThreads      int     `yaml:"num_threads"`
	RunWithNThreads int     `yaml:"run_with_n_threads"`
}

// Load reads and strictly decodes a descriptor file from disk,
// rejecting unrecognized fields rather than silently dropping them.
func Load(path string) (*NetConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netconfig: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse strictly decodes a descriptor already read into memory.
func Parse(data []byte) (*NetConfig, error) {
	var cfg NetConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("netconfig: parsing descriptor: %w", err)
	}
	if len(cfg.Net.Layers) == 0 {
		return nil, fmt.Errorf("netconfig: net has no layers")
	}
	if cfg.Net.Layers[0].Type != "DATA" {
		return nil, fmt.Errorf("netconfig: first layer must be DATA, got %q", cfg.Net.Layers[0].Type)
	}
	return &cfg, nil
}

// EffectiveLR applies the configured policy at iteration t:
// base_lr * gamma^floor(t/stepsize) for the "step" policy; any other
// policy name is treated as constant base_lr.
func (s Solver) EffectiveLR(t int) float32 {
	if s.LRPolicy != "step" || s.StepSize <= 0 {
		return s.BaseLR
	}
	steps := t / s.StepSize
	lr := s.BaseLR
	for i := 0; i < steps; i++ {
		lr *= s.Gamma
	}
	return lr
}

// AppliesTo reports whether a layer runs in phase p; layers with no
// include block run in both.
func (l Layer) AppliesTo(p Phase) bool {
	if l.Include == nil {
		return true
	}
	return l.Include.Phase == p
}
