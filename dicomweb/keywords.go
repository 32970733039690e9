package dicomweb

import "github.com/dicomweb-dimse/bridge/dicom"

// attributeKeywords maps the DICOM keyword form QIDO/MWL clients commonly
// use in query strings (PatientName, StudyInstanceUID, ...) to the tag it
// addresses. It is not a full data dictionary - just the attributes this
// façade's default attribute sets and typical client queries exercise -
// mirroring how determineVR in dicom/dataset.go is itself a "simplified
// mapping" rather than the full PS3.6 table.
var attributeKeywords = map[string]dicom.Tag{
	"SpecificCharacterSet":               {Group: 0x0008, Element: 0x0005},
	"StudyDate":                          {Group: 0x0008, Element: 0x0020},
	"SeriesDate":                         {Group: 0x0008, Element: 0x0021},
	"AcquisitionDate":                    {Group: 0x0008, Element: 0x0022},
	"ContentDate":                        {Group: 0x0008, Element: 0x0023},
	"StudyTime":                          {Group: 0x0008, Element: 0x0030},
	"SeriesTime":                         {Group: 0x0008, Element: 0x0031},
	"ContentTime":                        {Group: 0x0008, Element: 0x0033},
	"AccessionNumber":                    {Group: 0x0008, Element: 0x0050},
	"QueryRetrieveLevel":                 {Group: 0x0008, Element: 0x0052},
	"RetrieveAETitle":                    {Group: 0x0008, Element: 0x0054},
	"InstanceAvailability":               {Group: 0x0008, Element: 0x0056},
	"ModalitiesInStudy":                  {Group: 0x0008, Element: 0x0061},
	"Modality":                           {Group: 0x0008, Element: 0x0060},
	"InstitutionName":                    {Group: 0x0008, Element: 0x0080},
	"ReferringPhysicianName":             {Group: 0x0008, Element: 0x0090},
	"StudyDescription":                   {Group: 0x0008, Element: 0x1030},
	"SeriesDescription":                  {Group: 0x0008, Element: 0x103E},
	"InstitutionalDepartmentName":        {Group: 0x0008, Element: 0x1040},
	"PerformingPhysicianName":            {Group: 0x0008, Element: 0x1050},
	"NameOfPhysiciansReadingStudy":       {Group: 0x0008, Element: 0x1060},
	"OperatorsName":                      {Group: 0x0008, Element: 0x1070},
	"SOPClassUID":                        {Group: 0x0008, Element: 0x0016},
	"SOPInstanceUID":                     {Group: 0x0008, Element: 0x0018},
	"BodyPartExamined":                   {Group: 0x0018, Element: 0x0015},
	"PatientName":                        {Group: 0x0010, Element: 0x0010},
	"PatientID":                          {Group: 0x0010, Element: 0x0020},
	"PatientBirthDate":                   {Group: 0x0010, Element: 0x0030},
	"PatientSex":                         {Group: 0x0010, Element: 0x0040},
	"PatientAge":                         {Group: 0x0010, Element: 0x1010},
	"StudyInstanceUID":                   {Group: 0x0020, Element: 0x000D},
	"SeriesInstanceUID":                  {Group: 0x0020, Element: 0x000E},
	"StudyID":                            {Group: 0x0020, Element: 0x0010},
	"SeriesNumber":                       {Group: 0x0020, Element: 0x0011},
	"InstanceNumber":                     {Group: 0x0020, Element: 0x0013},
	"PatientOrientation":                 {Group: 0x0020, Element: 0x0020},
	"NumberOfStudyRelatedSeries":         {Group: 0x0020, Element: 0x1206},
	"NumberOfStudyRelatedInstances":      {Group: 0x0020, Element: 0x1208},
	"NumberOfSeriesRelatedInstances":     {Group: 0x0020, Element: 0x1209},
	"Rows":                               {Group: 0x0028, Element: 0x0010},
	"Columns":                            {Group: 0x0028, Element: 0x0011},
	"BitsAllocated":                      {Group: 0x0028, Element: 0x0100},
	"NumberOfFrames":                     {Group: 0x0028, Element: 0x0008},
	"ScheduledProcedureStepSequence":     {Group: 0x0040, Element: 0x0100},
	"ScheduledStationAETitle":            {Group: 0x0040, Element: 0x0001},
	"ScheduledProcedureStepStartDate":    {Group: 0x0040, Element: 0x0002},
	"ScheduledProcedureStepStartTime":    {Group: 0x0040, Element: 0x0003},
	"ScheduledPerformingPhysicianName":   {Group: 0x0040, Element: 0x0006},
	"ScheduledProcedureStepDescription":  {Group: 0x0040, Element: 0x0007},
	"ScheduledProcedureStepID":           {Group: 0x0040, Element: 0x0009},
	"ScheduledStationName":               {Group: 0x0040, Element: 0x0010},
	"ScheduledProcedureStepLocation":     {Group: 0x0040, Element: 0x0011},
	"CommentsOnScheduledProcedureStep":   {Group: 0x0040, Element: 0x0400},
	"RequestedProcedureID":               {Group: 0x0040, Element: 0x1001},
	"RequestAttributesSequence":          {Group: 0x0040, Element: 0x0275},
}

// resolveTagKeyword resolves a bare keyword (case-sensitive DICOM keyword
// form) to its tag, or (zero, false) if it's not in the table.
func resolveTagKeyword(name string) (dicom.Tag, bool) {
	t, ok := attributeKeywords[name]
	return t, ok
}
