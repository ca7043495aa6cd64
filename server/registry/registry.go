// Package registry records pipeline runs and their defects in the database
package registry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/server/model"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("Not found")

// Registry is safe for concurrent use. Every run's defect rows are inserted as they are emitted.
type Registry struct {
	log logs.Log
	db  *gorm.DB
	now func() time.Time
}

var _ pipeline.DefectListener = (*Registry)(nil)

// Open or create the DB
func Open(log logs.Log, config dbh.DBConfig) (*Registry, error) {
	log.Infof("Opening registry DB (%v)", config.LogSafeDescription())
	db, err := dbh.OpenDB(log, config, Migrations(log, config.Driver), 0)
	if err != nil {
		return nil, err
	}
	return New(log, withLog(log, db)), nil
}

func New(log logs.Log, db *gorm.DB) *Registry {
	return &Registry{
		log: log,
		db:  db,
		now: time.Now,
	}
}

func (r *Registry) DB() *gorm.DB {
	return r.db
}

func (r *Registry) Close() error {
	raw, err := r.db.DB()
	if err != nil {
		return err
	}
	return raw.Close()
}

// OnDefect inserts a row into detected_objects
func (r *Registry) OnDefect(runID string, rec *defects.DefectRecord) error {
	obj := model.MakeDetectedObject(runID, rec)
	return r.db.Create(&obj).Error
}

// SaveSummary stores the outcome of a run. A run that already has a row is updated in place.
func (r *Registry) SaveSummary(runID string, s *pipeline.RunSummary) (*model.SummaryData, error) {
	counts, err := json.Marshal(s.ClassCounts)
	if err != nil {
		return nil, err
	}
	row := model.SummaryData{}
	err = r.db.Where("run_id = ?", runID).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if row.ID == 0 {
		row.RunID = runID
		row.CreatedAt = dbh.MakeIntTime(r.now())
	}
	row.VideoName = s.VideoName
	row.RoadName = s.RoadName
	row.SectionOfRoad = s.SectionOfRoad
	row.RoadClass = s.RoadClass
	row.RoadCategory = s.RoadCategory
	row.Contractor = s.Contractor
	row.Status = s.Status
	row.Error = s.Error
	row.TotalObjects = s.TotalObjects
	row.TotalDistance = s.TotalDistance
	row.ProcessingTime = s.ProcessingTime
	row.ClassCounts = string(counts)
	if err := r.db.Save(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Runs returns the most recent runs first
func (r *Registry) Runs(limit int) ([]model.SummaryData, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := []model.SummaryData{}
	err := r.db.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Registry) Run(runID string) (*model.SummaryData, error) {
	row := model.SummaryData{}
	err := r.db.Where("run_id = ?", runID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &row, nil
}

// RunDefects returns the defects of a run in emission order
func (r *Registry) RunDefects(runID string) ([]model.DetectedObject, error) {
	rows := []model.DetectedObject{}
	err := r.db.Where("run_id = ?", runID).Order("id").Find(&rows).Error
	return rows, err
}

// FindDefects filters on video name and class label. Empty filters match everything.
func (r *Registry) FindDefects(videoName, className string, limit int) ([]model.DetectedObject, error) {
	if limit <= 0 {
		limit = 1000
	}
	q := r.db.Model(&model.DetectedObject{})
	if videoName != "" {
		q = q.Where("video_name = ?", videoName)
	}
	if className != "" {
		q = q.Where("class_name = ?", className)
	}
	rows := []model.DetectedObject{}
	err := q.Order("id").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkProcessed flags a run's report as handled
func (r *Registry) MarkProcessed(runID string) (*model.SummaryData, error) {
	row, err := r.Run(runID)
	if err != nil {
		return nil, err
	}
	if row.IsProcessed {
		return row, nil
	}
	row.IsProcessed = true
	row.ProcessedAt = dbh.MakeIntTime(r.now())
	err = r.db.Model(row).Updates(map[string]any{"is_processed": true, "processed_at": row.ProcessedAt}).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Videos returns the distinct names of all videos that have been processed
func (r *Registry) Videos() ([]string, error) {
	raw, err := r.db.DB()
	if err != nil {
		return nil, err
	}
	return dbh.ScanArray[string](raw.Query("SELECT DISTINCT video_name FROM summary_data ORDER BY video_name"))
}
