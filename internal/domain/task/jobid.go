package task

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var jobIDPattern = regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{8}$`)

// JobID はタスクの一意識別子を表す値オブジェクト
type JobID struct {
	value string
}

// NewJobID は新しいJobIDを生成
func NewJobID() JobID {
	return newJobIDAt(time.Now())
}

func newJobIDAt(now time.Time) JobID {
	// フォーマット: YYYYMMDD-HHMMSS-{UUID先頭8文字}
	return JobID{
		value: fmt.Sprintf("%s-%s", now.Format("20060102-150405"), uuid.New().String()[:8]),
	}
}

// JobIDFromString は文字列からJobIDを復元
func JobIDFromString(s string) JobID {
	return JobID{value: s}
}

// ParseJobID はフォーマットを検証してJobIDを復元
func ParseJobID(s string) (JobID, error) {
	if !jobIDPattern.MatchString(s) {
		return JobID{}, fmt.Errorf("invalid job id: %q", s)
	}
	return JobID{value: s}, nil
}

// String はJobIDの文字列表現を返す
func (j JobID) String() string {
	return j.value
}

// Equals は2つのJobIDが等しいかを判定
func (j JobID) Equals(other JobID) bool {
	return j.value == other.value
}

// IsZero はJobIDがゼロ値かを判定
func (j JobID) IsZero() bool {
	return j.value == ""
}
