package compliance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/grantflow/types"
)

var now = time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

func days(n int) *time.Time {
	t := now.AddDate(0, 0, n)
	return &t
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		expiry     *time.Time
		confidence float64
		want       Status
		days       *int
	}{
		{"valid", days(40), 0.95, StatusValid, intPtr(40)},
		{"expiring soon", days(10), 0.95, StatusExpiringSoon, intPtr(10)},
		{"expired", days(-5), 0.95, StatusExpired, intPtr(-5)},
		{"nil expiry", nil, 0.99, StatusInvalid, nil},
		{"low confidence", days(40), 0.85, StatusInvalid, nil},
		{"expires today", days(0), 0.9, StatusExpiringSoon, intPtr(0)},
		{"window edge", days(30), 0.9, StatusExpiringSoon, intPtr(30)},
		{"past window", days(31), 0.9, StatusValid, intPtr(31)},
		{"yesterday", days(-1), 0.9, StatusExpired, intPtr(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Evaluate(tt.expiry, tt.confidence, now)
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, tt.days, ev.DaysRemaining)
		})
	}
}

func intPtr(v int) *int { return &v }

func TestEvaluate_UsesUTCCalendarDays(t *testing.T) {
	// 当地时间 23:00 的到期日在 UTC 已是第二天
	zone := time.FixedZone("UTC-5", -5*3600)
	exp := time.Date(2026, 3, 16, 23, 0, 0, 0, zone)
	ev := Evaluate(&exp, 1, now)
	require.NotNil(t, ev.DaysRemaining)
	assert.Equal(t, 2, *ev.DaysRemaining)

	lateNow := time.Date(2026, 3, 15, 23, 59, 0, 0, time.UTC)
	earlyExp := time.Date(2026, 3, 16, 0, 1, 0, 0, time.UTC)
	ev = Evaluate(&earlyExp, 1, lateNow)
	assert.Equal(t, 1, *ev.DaysRemaining)
}

func TestEvaluator_CustomConfig(t *testing.T) {
	e := NewEvaluator(Config{WindowDays: 60, MinConfidence: 0.5})
	ev := e.Evaluate(days(40), 0.6, now)
	assert.Equal(t, StatusExpiringSoon, ev.Status)

	assert.NoError(t, DefaultConfig().Validate())
	assert.True(t, types.IsKind(Config{WindowDays: -1}.Validate(), types.KindValidation))
	assert.Error(t, Config{MinConfidence: 1.5}.Validate())
}

func TestParseExpiry(t *testing.T) {
	want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-04-01", "04/01/2026", "01 Apr 2026", "April 1, 2026", "2026-04-01T00:00:00Z"} {
		t.Run(raw, func(t *testing.T) {
			got := ParseExpiry(map[string]string{"valid_until": raw})
			require.NotNil(t, got)
			assert.True(t, want.Equal(*got))
		})
	}

	assert.Nil(t, ParseExpiry(map[string]string{"expiry_date": "soon"}))
	assert.Nil(t, ParseExpiry(map[string]string{"issued": "2026-04-01"}))

	// 按字段优先级取第一个
	got := ParseExpiry(map[string]string{"expiry_date": "2026-05-01", "valid_until": "2026-04-01"})
	require.NotNil(t, got)
	assert.Equal(t, time.May, got.Month())
}

func TestEvaluateFields(t *testing.T) {
	ev := EvaluateFields(map[string]string{"expiration_date": "2026-03-25"}, 0.95, now)
	assert.Equal(t, StatusExpiringSoon, ev.Status)
	assert.Equal(t, 10, *ev.DaysRemaining)
	assert.True(t, ev.Status.Acceptable())

	ev = EvaluateFields(map[string]string{}, 0.95, now)
	assert.Equal(t, StatusInvalid, ev.Status)
	assert.False(t, ev.Status.Acceptable())
}

func TestProperty_StatusMatchesDays(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		offset := rapid.IntRange(-400, 400).Draw(rt, "offset")
		conf := rapid.Float64Range(0, 1).Draw(rt, "confidence")

		ev := Evaluate(days(offset), conf, now)
		if conf < 0.90 {
			require.Equal(rt, StatusInvalid, ev.Status)
			require.Nil(rt, ev.DaysRemaining)
			return
		}
		require.NotNil(rt, ev.DaysRemaining)
		require.Equal(rt, offset, *ev.DaysRemaining)
		switch {
		case offset < 0:
			require.Equal(rt, StatusExpired, ev.Status)
		case offset <= 30:
			require.Equal(rt, StatusExpiringSoon, ev.Status)
		default:
			require.Equal(rt, StatusValid, ev.Status)
		}
	})
}
