// model.go defines the persisted records of a labeling session
package datastore

import "time"

// Session is one labeling run over a features file.
type Session struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	FeaturesPath string `gorm:"index:idx_sessions_features;type:varchar(512)"`
	TablePath    string `gorm:"type:varchar(512)"`
	Items        int    `gorm:"not null"`
	Seed         uint64
	BatchSize    int
	Iterations   int       // completed iterations
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

// LabelRecord is the committed label of one item. There is at most one row
// per session and item; later iterations overwrite earlier ones.
type LabelRecord struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"uniqueIndex:idx_labels_session_item;type:varchar(36);not null"`
	Item      int    `gorm:"uniqueIndex:idx_labels_session_item;not null"`
	Label     int8   `gorm:"not null"` // 0 or 1
	Weight    float64
	Iteration int
	UpdatedAt time.Time
}

// IterationRecord summarizes one committed iteration.
type IterationRecord struct {
	ID          uint   `gorm:"primaryKey"`
	SessionID   string `gorm:"index:idx_iterations_session;type:varchar(36);not null"`
	Iteration   int    `gorm:"not null"`
	Mode        string `gorm:"type:varchar(20)"`
	BatchSize   int
	Positives   int
	Explored    int
	FitLoss     float64
	FitDuration time.Duration
	CreatedAt   time.Time
}

// AccuracyRecord is the held-out accuracy measured after an iteration.
type AccuracyRecord struct {
	ID        uint    `gorm:"primaryKey"`
	SessionID string  `gorm:"index:idx_accuracy_session;type:varchar(36);not null"`
	Iteration int     `gorm:"not null"`
	Accuracy  float64 `gorm:"not null"`
	CreatedAt time.Time
}

// allModels lists the tables created by AutoMigrate.
func allModels() []any {
	return []any{&Session{}, &LabelRecord{}, &IterationRecord{}, &AccuracyRecord{}}
}
