package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"omnipong/internal/domain"
)

const (
	defaultSensorID = "default_sensor"
	aggregateWidth  = 10
)

type reading struct {
	SensorID  string  `json:"sensor_id"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

func collectReading(task domain.Task) reading {
	sensor := task.String("sensor_id")
	if sensor == "" {
		sensor = defaultSensorID
	}
	return reading{
		SensorID:  sensor,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Value:     rand.Float64() * 100,
	}
}

// preprocess standardises the values carried in task["data"]. The data may be
// a list of numbers, a reading object, or JSON text holding either.
func preprocess(task domain.Task) (map[string]any, error) {
	raw, ok := task["data"]
	if !ok {
		return nil, errors.New("preprocess_data task has no data")
	}
	values, err := extractValues(raw)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"original_data":  raw,
		"processed_data": zScores(values),
	}, nil
}

// aggregate averages the vectors in task["data"] element-wise. Without data,
// each entry of task["node_ids"] contributes a random vector.
func aggregate(task domain.Task) (map[string]any, error) {
	var vectors [][]float64
	if raw, ok := task["data"]; ok {
		switch list := raw.(type) {
		case [][]float64:
			vectors = list
		case []any:
			for i, item := range list {
				v, err := toFloats(item)
				if err != nil {
					return nil, fmt.Errorf("vector %d: %w", i, err)
				}
				vectors = append(vectors, v)
			}
		default:
			return nil, fmt.Errorf("aggregate data must be a list of vectors, got %T", raw)
		}
	} else if nodes, ok := task["node_ids"].([]any); ok {
		for range nodes {
			v := make([]float64, aggregateWidth)
			for i := range v {
				v[i] = rand.Float64()
			}
			vectors = append(vectors, v)
		}
	}
	if len(vectors) == 0 {
		return nil, errors.New("aggregate_data task has no vectors")
	}

	width := len(vectors[0])
	mean := make([]float64, width)
	for i, v := range vectors {
		if len(v) != width {
			return nil, fmt.Errorf("vector %d has %d elements, want %d", i, len(v), width)
		}
		for j, x := range v {
			mean[j] += x
		}
	}
	for j := range mean {
		mean[j] /= float64(len(vectors))
	}
	return map[string]any{"nodes": len(vectors), "aggregated_data": mean}, nil
}

func extractValues(raw any) ([]float64, error) {
	if text, ok := raw.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		raw = decoded
	}
	switch v := raw.(type) {
	case map[string]any:
		if values, ok := v["values"]; ok {
			return toFloats(values)
		}
		if value, ok := v["value"]; ok {
			return toFloats([]any{value})
		}
		return nil, errors.New("data object has neither value nor values")
	case reading:
		return []float64{v.Value}, nil
	default:
		return toFloats(raw)
	}
}

func toFloats(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	case []any:
		out := make([]float64, len(v))
		for i, item := range v {
			f, err := toFloat(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of numbers, got %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
}

// zScores uses the population standard deviation. A constant series maps to
// zeros.
func zScores(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(values)))
	if std == 0 {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}
