package models

import (
	"strconv"
	"time"
)

// DocumentStatus is the lifecycle status of an ingested document. Statuses
// only move forward; "failed" and "deleted" are terminal. Each forward status
// is also the work queue of exactly one stage, so a finished document must
// leave its status behind or it would fill that stage's batches forever.
type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentChunked    DocumentStatus = "chunked"
	DocumentArchived   DocumentStatus = "archived"
	DocumentFailed     DocumentStatus = "failed"
	DocumentDeleted    DocumentStatus = "deleted"
)

// ProcessMode selects how a document is analyzed.
type ProcessMode string

const (
	ModeText      ProcessMode = "text"
	ModeTextImage ProcessMode = "text_image"
)

// Document represents one ingested source file and tracks the overall
// status and metadata of its processing run.
type Document struct {
	ID           int64
	DirName      string // workspace directory name, unique per document
	FileName     string
	PageCount    int
	SizeBytes    int64
	ProcessMode  ProcessMode
	Status       DocumentStatus
	ErrorDetails string
	CreatedAt    time.Time
}

// UnitStatus is the processing status of a split unit. The vocabulary is a
// strict forward-only state machine; a re-queue pass may reset a failed unit
// back to pending-analysis.
type UnitStatus string

const (
	UnitPendingSplit       UnitStatus = "pending-split"
	UnitPendingAnalysis    UnitStatus = "pending-analysis"
	UnitAnalysisProcessing UnitStatus = "analysis-processing"
	UnitAnalysisSucceeded  UnitStatus = "analysis-succeeded"
	UnitAnalysisFailed     UnitStatus = "analysis-failed"
	UnitPageSplitSucceeded UnitStatus = "page-split-succeeded"
	UnitPageSplitFailed    UnitStatus = "page-split-failed"
	// UnitFailed marks units that never made it into analysis: physical
	// extraction mismatches and missing source files.
	UnitFailed UnitStatus = "failed"
)

// Well-known unit failure reasons. Service-reported reasons are stored as-is.
const (
	ReasonOverMaxWaitTime   = "over-max-wait-time"
	ReasonMissingSourceFile = "missing-source-file"
	ReasonPageCountMismatch = "page-count-mismatch"
)

// Terminal reports whether no further automatic transition applies to s.
func (s UnitStatus) Terminal() bool {
	switch s {
	case UnitAnalysisFailed, UnitPageSplitSucceeded, UnitPageSplitFailed, UnitFailed:
		return true
	}
	return false
}

// SplitUnit is a contiguous page range of a Document, the atomic unit
// submitted to the external analysis service.
//
// Invariant: the units of a document cover 1..PageCount with no gaps or
// overlaps, and PageCount = EndPage() - StartPage + 1 for every unit.
type SplitUnit struct {
	ID         int64
	DocumentID int64
	Seq        int // 0-based, deterministic
	StartPage  int // 1-based, absolute
	PageCount  int
	Status     UnitStatus
	Reason     string

	// Populated by joins when listing units for processing; not columns of
	// the split_units table.
	DocumentDir      string
	DocumentFileName string
}

// EndPage returns the 1-based absolute number of the unit's last page.
func (u *SplitUnit) EndPage() int {
	return u.StartPage + u.PageCount - 1
}

// PageRange returns the unit's absolute 1-based inclusive page range in the
// form the splitter and the analysis service expect ("21" or "11-20").
func (u *SplitUnit) PageRange() string {
	if u.PageCount == 1 {
		return strconv.Itoa(u.StartPage)
	}
	return strconv.Itoa(u.StartPage) + "-" + strconv.Itoa(u.EndPage())
}

// Page is one absolute page of a document, produced by result extraction.
// Exactly one Page exists per absolute page number per document; pages are
// never reordered by later processing, only annotated.
type Page struct {
	ID          int64
	DocumentID  int64
	SplitUnitID int64
	PageNumber  int // 1-based, absolute
	PageInUnit  int // 1-based position within the split unit
	Status      string
}

// PageRawExtracted is the status of a freshly extracted page.
const PageRawExtracted = "raw-extracted"

// Table is a tabular region detected on a page, stored as normalized
// markdown at a deterministic path keyed by (page number, index in page).
type Table struct {
	ID         int64
	PageID     int64
	PageNumber int
	TableIndex int // 1-based, in-page document order
}

// Figure is an image region detected on a page. Description is filled in by
// an external enrichment step and stays nil until then.
type Figure struct {
	ID          int64
	PageID      int64
	PageNumber  int
	FigureIndex int // 1-based, in-page
	Description *string
}

// ChunkStatus tracks a chunk's journey to the downstream index.
type ChunkStatus string

const (
	ChunkPendingUpload ChunkStatus = "pending-upload"
	ChunkUploaded      ChunkStatus = "uploaded"
	ChunkUploadFailed  ChunkStatus = "upload-failed"
	ChunkPendingDelete ChunkStatus = "pending-delete"
	ChunkDeleted       ChunkStatus = "deleted"
)

// Chunk is a bounded, overlapping slice of the bundled document body.
type Chunk struct {
	ID         int64
	DocumentID int64
	Seq        int // 0-based position within the document body
	Content    string
	Status     ChunkStatus
}
