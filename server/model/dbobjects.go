package model

import (
	"encoding/json"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/roadscan/pkg/defects"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// SummaryData is one row per pipeline run
type SummaryData struct {
	BaseModel
	RunID          string      `json:"runID"`
	VideoName      string      `json:"videoName"`
	RoadName       string      `json:"roadName"`
	SectionOfRoad  string      `json:"sectionOfRoad"`
	RoadClass      string      `json:"roadClass"`
	RoadCategory   string      `json:"roadCategory"`
	Contractor     string      `json:"contractor"`
	Status         string      `json:"status"`
	Error          string      `json:"error"`
	TotalObjects   int         `json:"totalObjects"`
	TotalDistance  float64     `json:"totalDistance"`
	ProcessingTime string      `json:"processingTime"`
	ClassCounts    string      `json:"classCounts"` // JSON object, label -> count
	CreatedAt      dbh.IntTime `gorm:"autoCreateTime:false" json:"createdAt"`
	ProcessedAt    dbh.IntTime `json:"processedAt"` // Zero until somebody has acted on the report
	IsProcessed    bool        `json:"isProcessed"`
}

func (SummaryData) TableName() string {
	return "summary_data"
}

// DetectedObject is a DefectRecord, as it was emitted by a run
type DetectedObject struct {
	BaseModel
	RunID             string  `json:"runID"`
	ObjectID          int64   `json:"objectID"` // Track id. Only unique within a run.
	Title             string  `json:"title"`
	SectionOfRoad     string  `json:"sectionOfRoad"`
	ImageName         string  `json:"imageName"`
	VideoName         string  `json:"videoName"`
	ClassName         string  `json:"className"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Status            string  `json:"status"`
	CriticalLevel     int     `json:"criticalLevel"`
	RoadClass         string  `json:"roadClass"`
	RoadCategory      string  `json:"roadCategory"`
	Contractor        string  `json:"contractor"`
	DateTimeDetection string  `json:"dateTimeDetection"`
	Frame             int     `json:"frame"`
}

func (DetectedObject) TableName() string {
	return "detected_objects"
}

func MakeDetectedObject(runID string, r *defects.DefectRecord) DetectedObject {
	return DetectedObject{
		RunID:             runID,
		ObjectID:          r.ObjectID,
		Title:             r.Title,
		SectionOfRoad:     r.SectionOfRoad,
		ImageName:         r.ImageName,
		VideoName:         r.VideoName,
		ClassName:         r.ClassName,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Status:            r.Status,
		CriticalLevel:     r.CriticalLevel,
		RoadClass:         r.RoadClass,
		RoadCategory:      r.RoadCategory,
		Contractor:        r.Contractor,
		DateTimeDetection: r.DateTimeDetection,
		Frame:             r.Frame,
	}
}

// Counts decodes ClassCounts. A damaged column yields an empty map.
func (s *SummaryData) Counts() map[string]int {
	m := map[string]int{}
	json.Unmarshal([]byte(s.ClassCounts), &m)
	return m
}
