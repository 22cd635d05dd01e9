package database

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJSONB_Scan(t *testing.T) {
	tests := []struct {
		name    string
		input   interface{}
		wantErr bool
	}{
		{name: "nil value", input: nil},
		{name: "bytes", input: []byte(`{"amps": 12.5}`)},
		{name: "string", input: `{"fw": "1.4.2"}`},
		{name: "invalid JSON", input: []byte(`not json`), wantErr: true},
		{name: "wrong type", input: 42, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var j JSONB
			err := j.Scan(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("Scan() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && j == nil {
				t.Error("Scan() left a nil map")
			}
		})
	}
}

func TestJSONB_Value(t *testing.T) {
	var empty JSONB
	v, err := empty.Value()
	if err != nil || v != nil {
		t.Errorf("nil JSONB Value() = %v, %v; want nil, nil", v, err)
	}

	raw := JSONB{"amps": 12.5, "outlet": float64(2)}
	v, err = raw.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	var back map[string]interface{}
	if err := json.Unmarshal(v.([]byte), &back); err != nil {
		t.Fatalf("Value() produced invalid JSON: %v", err)
	}
	if back["amps"] != 12.5 {
		t.Errorf("amps = %v; want 12.5", back["amps"])
	}
}

func TestParseSensorType(t *testing.T) {
	for _, st := range ValidSensorTypes() {
		got, ok := ParseSensorType(string(st))
		if !ok || got != st {
			t.Errorf("ParseSensorType(%q) = %q, %v", st, got, ok)
		}
	}
	for _, bad := range []string{"", "Current", "temperature", "voltage"} {
		if _, ok := ParseSensorType(bad); ok {
			t.Errorf("ParseSensorType(%q) accepted", bad)
		}
	}
}

func TestParseComparator(t *testing.T) {
	tests := []struct {
		in   string
		want Comparator
		ok   bool
	}{
		{"gt", ComparatorGT, true},
		{"gte", ComparatorGTE, true},
		{"lt", ComparatorLT, true},
		{"lte", ComparatorLTE, true},
		{"eq", ComparatorEQ, true},
		{">", "", false},
		{"GT", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseComparator(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseComparator(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	if s, ok := ParseSeverity("critical"); !ok || s != SeverityCritical {
		t.Errorf("ParseSeverity(critical) = %q, %v", s, ok)
	}
	if _, ok := ParseSeverity("fatal"); ok {
		t.Error("ParseSeverity(fatal) accepted")
	}
}

func TestCheckStatus_Rank(t *testing.T) {
	if !(CheckStatusPass.Rank() < CheckStatusWarn.Rank() && CheckStatusWarn.Rank() < CheckStatusFail.Rank()) {
		t.Error("want PASS < WARN < FAIL")
	}
}

func TestAlertRule_Duration(t *testing.T) {
	secs := func(n int) *int { return &n }
	tests := []struct {
		name    string
		seconds *int
		want    time.Duration
	}{
		{"unset", nil, 0},
		{"zero", secs(0), 0},
		{"negative", secs(-5), 0},
		{"sixty", secs(60), time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := AlertRule{DurationSeconds: tt.seconds}
			if got := r.Duration(); got != tt.want {
				t.Errorf("Duration() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestTableNames(t *testing.T) {
	tests := []struct {
		model interface{ TableName() string }
		want  string
	}{
		{Workspace{}, "workspaces"},
		{Device{}, "devices"},
		{Outlet{}, "outlets"},
		{Sensor{}, "sensors"},
		{SensorReading{}, "sensor_readings"},
		{AlertRule{}, "alert_rules"},
		{Alert{}, "alerts"},
		{BreachState{}, "breach_states"},
		{SafetyCheck{}, "safety_checks"},
		{SafetyCheckItem{}, "safety_check_items"},
	}
	for _, tt := range tests {
		if got := tt.model.TableName(); got != tt.want {
			t.Errorf("%T.TableName() = %q; want %q", tt.model, got, tt.want)
		}
	}
}
