package defects

import (
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/roadscan/pkg/geo"
	"github.com/cyclopcam/roadscan/pkg/nn/box"
)

// StatusNew is the lifecycle status of every freshly detected defect
const StatusNew = "new"

// DetectionTimeLayout is ISO-8601 in UTC, with microseconds and a trailing Z
const DetectionTimeLayout = "2006-01-02T15:04:05.000000Z"

// RoadInfo describes the stretch of road being inspected. It is copied into every record.
type RoadInfo struct {
	RoadName      string `json:"RoadName"`
	SectionOfRoad string `json:"SectionOfRoad"`
	RoadClass     string `json:"RoadClass"`
	RoadCategory  string `json:"RoadCategory"`
	Contractor    string `json:"Contractor"`
}

// DefectRecord is emitted once per distinct track id
type DefectRecord struct {
	ObjectID          int64   `json:"Object_id"`
	Title             string  `json:"Title"`
	SectionOfRoad     string  `json:"SectionOfRoad"`
	ImageName         string  `json:"ImageName"`
	VideoName         string  `json:"VideoName"`
	ClassName         string  `json:"ClassName"`
	Latitude          float64 `json:"Latitude"`
	Longitude         float64 `json:"Longitude"`
	Status            string  `json:"Status"`
	CriticalLevel     int     `json:"CriticalLevel"`
	RoadClass         string  `json:"RoadClass"`
	RoadCategory      string  `json:"RoadCategory"`
	Contractor        string  `json:"Contractor"`
	DateTimeDetection string  `json:"DateTimeDetection"`

	Category Category `json:"-"`
	Frame    int      `json:"-"` // Frame number of the first sighting
}

// FrameContext is what the aggregator needs to know about the frame that a detection came from
type FrameContext struct {
	Frame      int
	Coordinate geo.Coordinate

	// ImageName is called once for every new record, to name the frame capture.
	// It is not called for repeat sightings.
	ImageName func(trackID int64) string
}

// Aggregator decides which detections are first sightings, and counts every detection by class.
// It is owned by a single run, and is not safe for concurrent use.
type Aggregator struct {
	log       logs.Log
	road      RoadInfo
	videoName string
	severity  SeverityTable
	registry  *TrackRegistry
	counts    [NumCategories]int
	unknown   map[int]int // Detections per class id that is not a Category
	records   []DefectRecord
	now       func() time.Time
}

// NewAggregator fails if the severity table does not cover every category
func NewAggregator(log logs.Log, road RoadInfo, videoName string, severity SeverityTable) (*Aggregator, error) {
	if err := severity.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{
		log:       log,
		road:      road,
		videoName: videoName,
		severity:  severity.Clone(),
		registry:  NewTrackRegistry(),
		unknown:   map[int]int{},
		now:       time.Now,
	}, nil
}

// SetClock overrides the source of DateTimeDetection (for tests)
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Observe counts the detection, and returns a new record if this is the first sighting of its track.
// Detections without a track id are counted, but never produce a record.
// Detections with a class outside of the known categories are left out of the summary
// counts and never produce a record. The first one of each class id is logged, and
// UnknownClasses has the totals.
// The returned record is a copy, so changing it has no effect on the aggregator.
func (a *Aggregator) Observe(det box.Detection, ctx FrameContext) *DefectRecord {
	cat := Category(det.Class)
	if !cat.Valid() {
		if a.unknown[det.Class] == 0 {
			a.log.Warnf("Ignoring detections of unknown class %v (the model has more classes than the %v defect categories)", det.Class, NumCategories)
		}
		a.unknown[det.Class]++
		return nil
	}
	a.counts[cat]++
	if !det.HasTrack() {
		return nil
	}
	if !a.registry.Add(det.TrackID) {
		return nil
	}
	imageName := ""
	if ctx.ImageName != nil {
		imageName = ctx.ImageName(det.TrackID)
	}
	rec := DefectRecord{
		ObjectID:          det.TrackID,
		Title:             a.road.RoadName,
		SectionOfRoad:     a.road.SectionOfRoad,
		ImageName:         imageName,
		VideoName:         a.videoName,
		ClassName:         cat.Label(),
		Latitude:          ctx.Coordinate.Latitude,
		Longitude:         ctx.Coordinate.Longitude,
		Status:            StatusNew,
		CriticalLevel:     a.severity.Lookup(cat),
		RoadClass:         a.road.RoadClass,
		RoadCategory:      a.road.RoadCategory,
		Contractor:        a.road.Contractor,
		DateTimeDetection: a.now().UTC().Format(DetectionTimeLayout),
		Category:          cat,
		Frame:             ctx.Frame,
	}
	a.records = append(a.records, rec)
	return &rec
}

// SummaryCounts returns a copy of the per-class counts, keyed by label.
// Every category is present, including those with a zero count.
func (a *Aggregator) SummaryCounts() map[string]int {
	m := make(map[string]int, NumCategories)
	for i, n := range a.counts {
		m[Category(i).Label()] = n
	}
	return m
}

// Count returns the number of detections seen of category c
func (a *Aggregator) Count(c Category) int {
	if !c.Valid() {
		return 0
	}
	return a.counts[c]
}

// Records returns a copy of the records, in the order they were created.
// The result is never nil.
func (a *Aggregator) Records() []DefectRecord {
	return append(make([]DefectRecord, 0, len(a.records)), a.records...)
}

// UnknownClasses returns the number of ignored detections per class id
func (a *Aggregator) UnknownClasses() map[int]int {
	m := make(map[int]int, len(a.unknown))
	for k, v := range a.unknown {
		m[k] = v
	}
	return m
}

// DistinctObjects is the number of distinct track ids seen
func (a *Aggregator) DistinctObjects() int {
	return a.registry.Len()
}

func (r *DefectRecord) String() string {
	return fmt.Sprintf("%v #%v at (%.6f, %.6f)", r.Category.Name(), r.ObjectID, r.Latitude, r.Longitude)
}

// TrackRegistry is the set of track ids that already have a record. It only grows.
type TrackRegistry struct {
	ids map[int64]struct{}
}

func NewTrackRegistry() *TrackRegistry {
	return &TrackRegistry{ids: map[int64]struct{}{}}
}

// Add inserts id, and returns true if it was not already present
func (r *TrackRegistry) Add(id int64) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *TrackRegistry) Contains(id int64) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *TrackRegistry) Len() int {
	return len(r.ids)
}
