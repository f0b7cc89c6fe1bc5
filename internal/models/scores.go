package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// TopicScores maps a topic slug to a relevance score in [0,1]. Stored as a
// single JSON column so scoring an episode is atomic across topics.
type TopicScores map[string]float64

// Value implements driver.Valuer interface for TopicScores
func (s TopicScores) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner interface for TopicScores
func (s *TopicScores) Scan(value interface{}) error {
	if value == nil {
		*s = make(TopicScores)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, s)
}

// Validate checks every score is within [0,1]
func (s TopicScores) Validate() error {
	for slug, score := range s {
		if score < 0 || score > 1 {
			return fmt.Errorf("score for topic %s out of range: %f", slug, score)
		}
	}
	return nil
}

// Best returns the highest-scoring topic and its score. ok is false when the
// map is empty.
func (s TopicScores) Best() (slug string, score float64, ok bool) {
	for k, v := range s {
		if !ok || v > score || (v == score && k < slug) {
			slug, score, ok = k, v, true
		}
	}
	return slug, score, ok
}

// Meets reports whether the score for slug meets the inclusion threshold
func (s TopicScores) Meets(slug string, threshold float64) bool {
	score, present := s[slug]
	return present && score >= threshold
}
