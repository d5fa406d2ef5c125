package main

import (
	"fmt"
	"time"
)

// RegisterSpec 暫存器區塊定義 (起始位址 + 數量)
type RegisterSpec struct {
	Address uint16
	Count   uint16
}

func (s RegisterSpec) String() string {
	return fmt.Sprintf("(%d, %d)", s.Address, s.Count)
}

// RegisterReading 單一暫存器區塊的讀值
type RegisterReading struct {
	Address uint16
	Count   uint16
	Values  []uint16
}

// ReportSource 報表資料來源
type ReportSource int

const (
	SourceHardware ReportSource = iota
	SourceMock
)

func (s ReportSource) String() string {
	switch s {
	case SourceHardware:
		return "hardware"
	case SourceMock:
		return "mock"
	default:
		return "unknown"
	}
}

// Report 一次輪詢的完整報表，依目錄順序每個區塊一筆
type Report struct {
	Source   ReportSource
	At       time.Time
	Readings []RegisterReading
}

// referenceSpecs Eco-Adapt 感測器的暫存器區塊
var referenceSpecs = []RegisterSpec{
	{Address: 0, Count: 1},
	{Address: 1, Count: 1},
	{Address: 2, Count: 3},
	{Address: 244, Count: 12},
	{Address: 352, Count: 12},
	{Address: 388, Count: 12},
	{Address: 424, Count: 12},
}

// Catalog 不可變的暫存器目錄
type Catalog struct {
	specs []RegisterSpec
}

// DefaultCatalog 返回參考目錄
func DefaultCatalog() Catalog {
	specs := make([]RegisterSpec, len(referenceSpecs))
	copy(specs, referenceSpecs)
	return Catalog{specs: specs}
}

// NewCatalog 建立自訂目錄
func NewCatalog(specs ...RegisterSpec) (Catalog, error) {
	if len(specs) == 0 {
		return Catalog{}, fmt.Errorf("目錄至少需要一個暫存器區塊")
	}

	seen := make(map[uint16]struct{}, len(specs))
	for _, s := range specs {
		if s.Count == 0 || s.Count > MaxRegistersPerRead {
			return Catalog{}, fmt.Errorf("暫存器 %d 數量無效: %d (1-%d)", s.Address, s.Count, MaxRegistersPerRead)
		}
		if int(s.Address)+int(s.Count) > InputRegisterSpace {
			return Catalog{}, fmt.Errorf("暫存器 %d 超出位址範圍", s.Address)
		}
		if _, dup := seen[s.Address]; dup {
			return Catalog{}, fmt.Errorf("暫存器位址重複: %d", s.Address)
		}
		seen[s.Address] = struct{}{}
	}

	owned := make([]RegisterSpec, len(specs))
	copy(owned, specs)
	return Catalog{specs: owned}, nil
}

// Specs 依序返回所有區塊 (副本)
func (c Catalog) Specs() []RegisterSpec {
	out := make([]RegisterSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Len 區塊數量
func (c Catalog) Len() int {
	return len(c.specs)
}

// Lookup 依位址查詢區塊
func (c Catalog) Lookup(address uint16) (RegisterSpec, bool) {
	for _, s := range c.specs {
		if s.Address == address {
			return s, true
		}
	}
	return RegisterSpec{}, false
}
