package dicomweb

import (
	"github.com/dicomweb-dimse/bridge/dicom"
	"github.com/dicomweb-dimse/bridge/types"
)

// QueryLevel is the QIDO-RS/WADO-RS "level" a request addresses: which
// kind of entity its match criteria and result rows describe.
type QueryLevel string

const (
	LevelStudy    QueryLevel = "STUDY"
	LevelSeries   QueryLevel = "SERIES"
	LevelImage    QueryLevel = "IMAGE"
	LevelWorklist QueryLevel = "WORKLIST"
)

// defaultAttributes is the fixed seed attribute set a C-FIND identifier
// starts from for a given query level, before match criteria and
// includefield are overlaid.
func defaultAttributes(level QueryLevel) []dicom.Tag {
	switch level {
	case LevelStudy:
		return []dicom.Tag{
			{Group: 0x0008, Element: 0x0020}, // Study Date
			{Group: 0x0008, Element: 0x0030}, // Study Time
			{Group: 0x0008, Element: 0x0050}, // Accession Number
			{Group: 0x0008, Element: 0x0056}, // Instance Availability
			{Group: 0x0008, Element: 0x0061}, // Modalities in Study
			{Group: 0x0008, Element: 0x0090}, // Referring Physician's Name
			{Group: 0x0008, Element: 0x1030}, // Study Description
			{Group: 0x0010, Element: 0x0010}, // Patient's Name
			{Group: 0x0010, Element: 0x0020}, // Patient ID
			{Group: 0x0010, Element: 0x0030}, // Patient's Birth Date
			{Group: 0x0010, Element: 0x0040}, // Patient's Sex
			{Group: 0x0020, Element: 0x000D}, // Study Instance UID
			{Group: 0x0020, Element: 0x0010}, // Study ID
			{Group: 0x0020, Element: 0x1206}, // Number of Study Related Series
			{Group: 0x0020, Element: 0x1208}, // Number of Study Related Instances
			{Group: 0x0008, Element: 0x0054}, // Retrieve AE Title
		}
	case LevelSeries:
		return []dicom.Tag{
			{Group: 0x0008, Element: 0x0060}, // Modality
			{Group: 0x0008, Element: 0x103E}, // Series Description
			{Group: 0x0018, Element: 0x0015}, // Body Part Examined
			{Group: 0x0020, Element: 0x000E}, // Series Instance UID
			{Group: 0x0020, Element: 0x0011}, // Series Number
			{Group: 0x0020, Element: 0x1209}, // Number of Series Related Instances
			{Group: 0x0008, Element: 0x0021}, // Series Date
			{Group: 0x0008, Element: 0x0031}, // Series Time
			{Group: 0x0008, Element: 0x0054}, // Retrieve AE Title
			{Group: 0x0040, Element: 0x0275}, // Request Attributes Sequence
		}
	case LevelImage:
		return []dicom.Tag{
			{Group: 0x0008, Element: 0x0016}, // SOP Class UID
			{Group: 0x0008, Element: 0x0018}, // SOP Instance UID
			{Group: 0x0008, Element: 0x0022}, // Acquisition Date
			{Group: 0x0008, Element: 0x0023}, // Content Date
			{Group: 0x0008, Element: 0x0033}, // Content Time
			{Group: 0x0020, Element: 0x0013}, // Instance Number
			{Group: 0x0028, Element: 0x0008}, // Number of Frames
			{Group: 0x0028, Element: 0x0010}, // Rows
			{Group: 0x0028, Element: 0x0011}, // Columns
			{Group: 0x0028, Element: 0x0100}, // Bits Allocated
		}
	case LevelWorklist:
		return []dicom.Tag{
			{Group: 0x0008, Element: 0x0050}, // Accession Number
			{Group: 0x0010, Element: 0x0010}, // Patient's Name
			{Group: 0x0010, Element: 0x0020}, // Patient ID
			{Group: 0x0010, Element: 0x0030}, // Patient's Birth Date
			{Group: 0x0010, Element: 0x0040}, // Patient's Sex
			{Group: 0x0010, Element: 0x1010}, // Patient's Age
			{Group: 0x0020, Element: 0x000D}, // Study Instance UID
			{Group: 0x0040, Element: 0x1001}, // Requested Procedure ID
			{Group: 0x0040, Element: 0x0100}, // Scheduled Procedure Step Sequence
			{Group: 0x0040, Element: 0x0275}, // Request Attributes Sequence
		}
	default:
		return nil
	}
}

// scheduledProcedureStepAttributes is the default attribute set nested
// inside each Scheduled Procedure Step Sequence item the worklist
// identifier carries; the top-level worklist attributes live in
// defaultAttributes(LevelWorklist), this is the sequence item's contents.
func scheduledProcedureStepAttributes() []dicom.Tag {
	return []dicom.Tag{
		{Group: 0x0040, Element: 0x0001}, // Scheduled Station AE Title
		{Group: 0x0040, Element: 0x0002}, // Scheduled Procedure Step Start Date
		{Group: 0x0040, Element: 0x0003}, // Scheduled Procedure Step Start Time
		{Group: 0x0040, Element: 0x0006}, // Scheduled Performing Physician's Name
		{Group: 0x0040, Element: 0x0007}, // Scheduled Procedure Step Description
		{Group: 0x0040, Element: 0x0009}, // Scheduled Procedure Step ID
		{Group: 0x0040, Element: 0x0010}, // Scheduled Station Name
		{Group: 0x0040, Element: 0x0011}, // Scheduled Procedure Step Location
		{Group: 0x0040, Element: 0x0400}, // Comments on the Scheduled Procedure Step
		{Group: 0x0008, Element: 0x0060}, // Modality
	}
}

// qrSOPClassFind picks the information model SOP class UID for a query level:
// Study/Series/Image use the Study Root Query/Retrieve model, Worklist
// uses Modality Worklist.
func qrSOPClassFind(level QueryLevel) string {
	if level == LevelWorklist {
		return types.ModalityWorklistInformationModelFind
	}
	return types.StudyRootQueryRetrieveInformationModelFind
}
