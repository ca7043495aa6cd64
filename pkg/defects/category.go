// Package defects turns per-frame detections into one record per physical road defect.
package defects

import (
	"fmt"
	"image/color"
)

// Category is a road defect class, as numbered by the detector
type Category int

const (
	CategoryBadGarden       Category = iota // Плохой сад
	CategoryDirtyPole                       // Загрязнение опоры
	CategoryWornMarking                     // Стертая разметка
	CategoryDamagedPole                     // Повреждение опоры
	CategoryBrokenCurb                      // Сломанный бордюр
	CategoryDirtyBusStop                    // Грязная остановка
	CategoryCrack                           // Трещина
	CategoryGraffiti                        // Граффити
	CategoryPothole                         // Выбоина
	CategoryExcessLitter                    // Излишки мусора
	CategoryPatch                           // Заплатка
	CategorySmallPit                        // Малая яма
	NumCategories           int = iota
)

type categoryInfo struct {
	label    string // Label used in reports and in the severity configuration
	name     string // ASCII name for logs and video overlays
	severity int    // Default severity
	color    color.RGBA
}

var categories = [NumCategories]categoryInfo{
	CategoryBadGarden:    {"Плохой сад", "bad_garden", 1, color.RGBA{0, 255, 255, 255}},
	CategoryDirtyPole:    {"Загрязнение опоры", "dirty_pole", 1, color.RGBA{255, 0, 255, 255}},
	CategoryWornMarking:  {"Стертая разметка", "worn_marking", 1, color.RGBA{255, 255, 0, 255}},
	CategoryDamagedPole:  {"Повреждение опоры", "damaged_pole", 2, color.RGBA{255, 0, 0, 255}},
	CategoryBrokenCurb:   {"Сломанный бордюр", "broken_curb", 2, color.RGBA{0, 255, 0, 255}},
	CategoryDirtyBusStop: {"Грязная остановка", "dirty_bus_stop", 1, color.RGBA{0, 0, 255, 255}},
	CategoryCrack:        {"Трещина", "crack", 2, color.RGBA{255, 255, 255, 255}},
	CategoryGraffiti:     {"Граффити", "graffiti", 1, color.RGBA{255, 165, 0, 255}},
	CategoryPothole:      {"Выбоина", "pothole", 3, color.RGBA{255, 20, 147, 255}},
	CategoryExcessLitter: {"Излишки мусора", "excess_litter", 2, color.RGBA{0, 191, 255, 255}},
	CategoryPatch:        {"Заплатка", "patch", 2, color.RGBA{255, 215, 0, 255}},
	CategorySmallPit:     {"Малая яма", "small_pit", 3, color.RGBA{50, 205, 50, 255}},
}

// Lookup from label or name to category
var categoryByKey map[string]Category

func init() {
	categoryByKey = map[string]Category{}
	for i, c := range categories {
		categoryByKey[c.label] = Category(i)
		categoryByKey[c.name] = Category(i)
	}
}

// AllCategories returns every category, in class-id order
func AllCategories() []Category {
	all := make([]Category, NumCategories)
	for i := range all {
		all[i] = Category(i)
	}
	return all
}

// ParseCategory accepts either the report label or the ASCII name
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryByKey[s]
	return c, ok
}

func (c Category) Valid() bool {
	return c >= 0 && int(c) < NumCategories
}

func (c Category) Label() string {
	if !c.Valid() {
		return fmt.Sprintf("class_%d", int(c))
	}
	return categories[c].label
}

func (c Category) Name() string {
	if !c.Valid() {
		return fmt.Sprintf("class_%d", int(c))
	}
	return categories[c].name
}

func (c Category) String() string {
	return c.Name()
}

// DefaultSeverity is the built-in severity level of the category
func (c Category) DefaultSeverity() int {
	if !c.Valid() {
		return 0
	}
	return categories[c].severity
}

// Color used when drawing the category onto a video frame
func (c Category) Color() color.RGBA {
	if !c.Valid() {
		return color.RGBA{255, 255, 255, 255}
	}
	return categories[c].color
}

// Labels returns the report labels of all categories, in class-id order
func Labels() []string {
	labels := make([]string, NumCategories)
	for i := range categories {
		labels[i] = categories[i].label
	}
	return labels
}
