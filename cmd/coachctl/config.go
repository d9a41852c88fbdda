package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	coachapi "coach/pkg/coach"
)

type sessionFlags struct {
	config          *string
	id              *string
	resume          *string
	env             *string
	agents          *string
	frameRate       *float64
	checkpointEvery *int64
	seed            *int64
	sensor          *string
	actuator        *string
	backend         *string
	hidden          *string
	credit          *string
	lookBack        *int
	probeFrames     *int
	batchSize       *int
	learningRate    *float64
}

func addSessionFlags(fs *flag.FlagSet) sessionFlags {
	return sessionFlags{
		config:          fs.String("config", "", "JSON session config; flags override its values"),
		id:              fs.String("session-id", "", "session id (generated when empty)"),
		resume:          fs.String("resume", "", "resume a stored session by id"),
		env:             fs.String("env", "walker", "environment name"),
		agents:          fs.String("agents", "player1,player2", "comma separated agent ids"),
		frameRate:       fs.Float64("frame-rate", 60, "frames per second for real-time sessions"),
		checkpointEvery: fs.Int64("checkpoint-every", 600, "checkpoint every n frames (0 only on stop)"),
		seed:            fs.Int64("seed", 0, "random seed (0 uses the clock)"),
		sensor:          fs.String("sensor", "", "sensor component name"),
		actuator:        fs.String("actuator", "", "actuator component name"),
		backend:         fs.String("backend", "", "model backend: mlp|loom"),
		hidden:          fs.String("hidden", "", "hidden layer sizes, comma separated"),
		credit:          fs.String("credit", "", "credit strategy: decayed|since_probe"),
		lookBack:        fs.Int("look-back", 0, "frames credited by one feedback"),
		probeFrames:     fs.Int("probe-frames", 0, "frames a random probe is held"),
		batchSize:       fs.Int("batch-size", 0, "training batch size"),
		learningRate:    fs.Float64("learning-rate", 0, "model learning rate"),
	}
}

// request builds the session request from the defaults, the optional config
// file and the flags explicitly set on fs, in that order.
func (f sessionFlags) request(fs *flag.FlagSet) (coachapi.SessionRequest, error) {
	req, err := loadOrDefaultSessionRequest(*f.config)
	if err != nil {
		return coachapi.SessionRequest{}, err
	}
	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if *f.config == "" {
		// without a config file the flag defaults apply
		set["env"], set["agents"], set["frame-rate"], set["checkpoint-every"] = true, true, true, true
	}
	values := map[string]any{
		"session-id":       *f.id,
		"resume":           *f.resume,
		"env":              *f.env,
		"agents":           *f.agents,
		"frame-rate":       *f.frameRate,
		"checkpoint-every": *f.checkpointEvery,
		"seed":             *f.seed,
		"sensor":           *f.sensor,
		"actuator":         *f.actuator,
		"backend":          *f.backend,
		"hidden":           *f.hidden,
		"credit":           *f.credit,
		"look-back":        *f.lookBack,
		"probe-frames":     *f.probeFrames,
		"batch-size":       *f.batchSize,
		"learning-rate":    *f.learningRate,
	}
	if err := overrideFromFlags(&req, set, values); err != nil {
		return coachapi.SessionRequest{}, err
	}
	return req, nil
}

func loadOrDefaultSessionRequest(path string) (coachapi.SessionRequest, error) {
	if path == "" {
		return coachapi.DefaultSessionRequest(), nil
	}
	return loadSessionRequestFromConfig(path)
}

func loadSessionRequestFromConfig(path string) (coachapi.SessionRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return coachapi.SessionRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return coachapi.SessionRequest{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	req := coachapi.DefaultSessionRequest()
	if v, ok := asString(raw["session_id"]); ok {
		req.ID = v
	}
	if v, ok := asString(raw["resume"]); ok {
		req.ResumeFrom = v
	}
	if v, ok := asString(raw["environment"]); ok {
		req.Environment = v
	}
	if v, ok := asStringSlice(raw["agents"]); ok {
		req.Agents = v
	}
	if v, ok := asFloat64(raw["frame_rate"]); ok {
		req.FrameRate = v
	}
	if v, ok := asInt64(raw["checkpoint_every"]); ok {
		req.CheckpointEvery = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asString(raw["sensor"]); ok {
		req.SensorName = v
	}
	if v, ok := asString(raw["actuator"]); ok {
		req.ActuatorName = v
	}

	if a, ok := raw["agent"].(map[string]any); ok {
		s := &req.Settings
		if v, ok := asString(a["backend"]); ok {
			s.Backend = v
		}
		if v, ok := asIntSlice(a["hidden"]); ok {
			s.Hidden = v
		}
		if v, ok := asString(a["activation"]); ok {
			s.Activation = v
		}
		if v, ok := asFloat64(a["learning_rate"]); ok {
			s.LearningRate = v
		}
		if v, ok := asFloat64(a["gradient_clip"]); ok {
			s.GradientClip = v
		}
		if v, ok := asString(a["credit"]); ok {
			s.Credit = v
		}
		if v, ok := asInt(a["look_back_frames"]); ok {
			s.LookBack = v
		}
		if v, ok := asFloat64(a["min_valuation"]); ok {
			s.MinValuation = v
		}
		if v, ok := asFloat64(a["keep_fraction"]); ok {
			s.KeepFraction = v
		}
		if v, ok := asInt(a["max_samples"]); ok {
			s.MaxSamples = v
		}
		if v, ok := asInt(a["batch_size"]); ok {
			s.BatchSize = v
		}
		if v, ok := asInt(a["min_samples"]); ok {
			s.MinSamples = v
		}
		if v, ok := asFloat64(a["max_epochs"]); ok {
			s.MaxEpochs = v
		}
		if v, ok := asFloat64(a["min_epochs"]); ok {
			s.MinEpochs = v
		}
		if v, ok := asFloat64(a["loss_average_speed"]); ok {
			s.LossSpeed = v
		}
		if v, ok := asBool(a["weight_targets"]); ok {
			s.WeightTarget = v
		}
		if v, ok := asInt(a["fit_epochs"]); ok {
			s.FitEpochs = v
		}
		if v, ok := asInt(a["fit_timeout_ms"]); ok {
			s.FitTimeout = time.Duration(v) * time.Millisecond
		}
		if v, ok := asInt(a["probe_frames"]); ok {
			s.ProbeFrames = v
		}
		if v, ok := asFloat64(a["baseline_rate"]); ok {
			s.BaselineRate = v
		}
		if v, ok := asBool(a["shared_probe"]); ok {
			s.SharedProbe = v
		}
		if v, ok := asFloat64(a["approve_valuation"]); ok {
			s.Approve = v
		}
		if v, ok := asFloat64(a["disapprove_valuation"]); ok {
			s.Disapprove = v
		}
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := asString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asIntSlice(v any) ([]int, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := asInt(item)
		if !ok {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

func overrideFromFlags(req *coachapi.SessionRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "session-id":
			req.ID = v.(string)
		case "resume":
			req.ResumeFrom = v.(string)
		case "env":
			req.Environment = v.(string)
		case "agents":
			req.Agents = parseCommaSeparated(v.(string))
		case "frame-rate":
			req.FrameRate = v.(float64)
		case "checkpoint-every":
			req.CheckpointEvery = v.(int64)
		case "seed":
			req.Seed = v.(int64)
		case "sensor":
			req.SensorName = v.(string)
		case "actuator":
			req.ActuatorName = v.(string)
		case "backend":
			req.Settings.Backend = v.(string)
		case "hidden":
			sizes, err := parseIntList(v.(string))
			if err != nil {
				return fmt.Errorf("hidden: %w", err)
			}
			req.Settings.Hidden = sizes
		case "credit":
			req.Settings.Credit = v.(string)
		case "look-back":
			req.Settings.LookBack = v.(int)
		case "probe-frames":
			req.Settings.ProbeFrames = v.(int)
		case "batch-size":
			req.Settings.BatchSize = v.(int)
			if req.Settings.MinSamples < req.Settings.BatchSize {
				req.Settings.MinSamples = req.Settings.BatchSize
			}
		case "learning-rate":
			req.Settings.LearningRate = v.(float64)
		}
	}
	return nil
}

func parseCommaSeparated(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntList(raw string) ([]int, error) {
	parts := parseCommaSeparated(raw)
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid size %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
