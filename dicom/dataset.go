package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dicomweb-dimse/bridge/types"
)

// VR (Value Representation) constants
const (
	VR_AE = "AE" // Application Entity
	VR_AS = "AS" // Age String
	VR_AT = "AT" // Attribute Tag
	VR_CS = "CS" // Code String
	VR_DA = "DA" // Date
	VR_DS = "DS" // Decimal String
	VR_DT = "DT" // Date Time
	VR_FL = "FL" // Floating Point Single
	VR_FD = "FD" // Floating Point Double
	VR_IS = "IS" // Integer String
	VR_LO = "LO" // Long String
	VR_LT = "LT" // Long Text
	VR_OB = "OB" // Other Byte
	VR_OD = "OD" // Other Double
	VR_OF = "OF" // Other Float
	VR_OL = "OL" // Other Long
	VR_OV = "OV" // Other Very Long
	VR_OW = "OW" // Other Word
	VR_PN = "PN" // Person Name
	VR_SH = "SH" // Short String
	VR_SL = "SL" // Signed Long
	VR_SQ = "SQ" // Sequence of Items
	VR_SS = "SS" // Signed Short
	VR_ST = "ST" // Short Text
	VR_SV = "SV" // Signed Very Long
	VR_TM = "TM" // Time
	VR_UC = "UC" // Unlimited Characters
	VR_UI = "UI" // Unique Identifier
	VR_UL = "UL" // Unsigned Long
	VR_UN = "UN" // Unknown
	VR_UR = "UR" // Universal Resource
	VR_US = "US" // Unsigned Short
	VR_UT = "UT" // Unlimited Text
	VR_UV = "UV" // Unsigned Very Long
)

// Common transfer syntax UIDs
const (
	TransferSyntaxImplicitVRLittleEndian = types.ImplicitVRLittleEndian
	TransferSyntaxExplicitVRLittleEndian = types.ExplicitVRLittleEndian
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

// Element represents a DICOM data element
type Element struct {
	Tag    Tag
	VR     string
	Length uint32
	Value  interface{}
}

// Dataset represents a collection of DICOM elements
type Dataset struct {
	Elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{
		Elements: make(map[Tag]*Element),
	}
}

// AddElement adds an element to the dataset
func (d *Dataset) AddElement(tag Tag, vr string, value interface{}) {
	element := &Element{
		Tag:   tag,
		VR:    vr,
		Value: value,
	}
	d.Elements[tag] = element
}

// GetElement returns an element by tag
func (d *Dataset) GetElement(tag Tag) (*Element, bool) {
	element, exists := d.Elements[tag]
	return element, exists
}

// GetString returns a string value for a tag
func (d *Dataset) GetString(tag Tag) string {
	if element, exists := d.Elements[tag]; exists {
		if str, ok := element.Value.(string); ok {
			return strings.TrimSpace(str)
		}
	}
	return ""
}

// GetStrings returns a slice of string values for a tag
func (d *Dataset) GetStrings(tag Tag) []string {
	if element, exists := d.Elements[tag]; exists {
		switch v := element.Value.(type) {
		case string:
			// Split by backslash for multiple values
			parts := strings.Split(v, "\\")
			result := make([]string, len(parts))
			for i, part := range parts {
				result[i] = strings.TrimSpace(part)
			}
			return result
		case []string:
			return v
		}
	}
	return nil
}

// ParseDataset parses a DICOM dataset from raw bytes (Explicit VR Little Endian)
func ParseDataset(data []byte) (*Dataset, error) {
	dataset := NewDataset()

	if len(data) == 0 {
		return dataset, nil
	}

	offset := 0
	for offset < len(data) {
		// Need at least 8 bytes for tag + VR + length
		if offset+8 > len(data) {
			break
		}

		// Read tag (4 bytes)
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		// Read VR (2 bytes)
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		// Determine if this is a short or long VR
		// Short VRs: AE, AS, AT, CS, DA, DS, DT, FL, FD, IS, LO, LT, PN, SH, SL, SS, ST, TM, UI, UL, US
		// Long VRs: OB, OD, OF, OL, OW, SQ, UC, UR, UT, UN, OV, SV, UV
		isLongVR := vr == "OB" || vr == "OD" || vr == "OF" || vr == "OL" || vr == "OW" ||
			vr == "SQ" || vr == "UC" || vr == "UR" || vr == "UT" || vr == "UN" ||
			vr == "OV" || vr == "SV" || vr == "UV"

		if isLongVR {
			// Long VR: Tag (4) + VR (2) + Reserved (2) + Length (4) = 12 bytes header
			if offset+12 > len(data) {
				break
			}
			// Skip 2 reserved bytes
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			// Short VR: Tag (4) + VR (2) + Length (2) = 8 bytes header
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if vr == VR_SQ {
			itemsData, nextOffset, ok := sliceSequenceContent(data, valueOffset, length)
			if !ok {
				break
			}
			dataset.AddElement(tag, vr, parseSequenceItems(itemsData, false))
			offset = nextOffset
			continue
		}

		// Ensure we have enough data for the value
		if valueOffset+int(length) > len(data) {
			break
		}

		// Extract value
		valueData := data[valueOffset : valueOffset+int(length)]
		value := parseElementValue(tag, valueData)

		dataset.AddElement(tag, vr, value)

		// Move to next element (including padding if odd length)
		nextOffset := valueOffset + int(length)
		if length%2 == 1 {
			nextOffset++
		}
		offset = nextOffset
	}

	return dataset, nil
}

// ParseDatasetWithTransferSyntax parses a dataset using the provided transfer syntax.
func ParseDatasetWithTransferSyntax(data []byte, transferSyntaxUID string) (*Dataset, error) {
	switch transferSyntaxUID {
	case "", TransferSyntaxExplicitVRLittleEndian:
		return ParseDataset(data)
	case TransferSyntaxImplicitVRLittleEndian:
		return parseImplicitVRDataset(data)
	default:
		return ParseDataset(data)
	}
}

func parseImplicitVRDataset(data []byte) (*Dataset, error) {
	dataset := NewDataset()

	if len(data) == 0 {
		return dataset, nil
	}

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}

		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		valueOffset := offset + 8
		vr := determineVR(tag)

		if vr == VR_SQ {
			itemsData, nextOffset, ok := sliceSequenceContent(data, valueOffset, length)
			if !ok {
				break
			}
			dataset.AddElement(tag, vr, parseSequenceItems(itemsData, true))
			offset = nextOffset
			continue
		}

		if valueOffset+int(length) > len(data) {
			break
		}

		valueData := data[valueOffset : valueOffset+int(length)]
		value := parseElementValue(tag, valueData)

		dataset.AddElement(tag, vr, value)

		nextOffset := valueOffset + int(length)
		if length%2 == 1 {
			nextOffset++
		}
		offset = nextOffset
	}

	return dataset, nil
}

// undefinedLength is the PS3.5 sentinel (0xFFFFFFFF) marking a sequence or
// item whose end is found by scanning for its delimiter rather than by a
// declared byte count.
const undefinedLength = 0xFFFFFFFF

// sliceSequenceContent resolves the byte range holding an SQ element's item
// stream starting at valueOffset, handling both a declared length and the
// undefined-length form terminated by a Sequence Delimitation Item
// (FFFE,E0DD). It returns the item bytes and the offset of the element
// following the sequence, or ok=false if the data is truncated.
func sliceSequenceContent(data []byte, valueOffset int, length uint32) (content []byte, nextOffset int, ok bool) {
	if length != undefinedLength {
		if valueOffset+int(length) > len(data) {
			return nil, 0, false
		}
		next := valueOffset + int(length)
		if length%2 == 1 {
			next++
		}
		return data[valueOffset:next], next, true
	}

	end := findDelimiter(data[valueOffset:], 0xE0DD)
	if end < 0 {
		return nil, 0, false
	}
	return data[valueOffset : valueOffset+end], valueOffset + end + 8, true
}

// findDelimiter locates the (FFFE,delimElement) item/sequence delimiter
// tag within data, skipping over nested items (which may themselves use
// undefined length and their own Item Delimitation Item, FFFE,E00D) rather
// than matching on the first FFFE tag encountered. Returns the delimiter's
// byte offset, or -1 if data is exhausted first.
func findDelimiter(data []byte, delimElement uint16) int {
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])

		if group == 0xFFFE && element == delimElement {
			return offset
		}
		if group != 0xFFFE || element != 0xE000 {
			return -1 // not a well-formed Item, bail rather than misparse
		}
		offset += 8
		if length == undefinedLength {
			itemEnd := findDelimiter(data[offset:], 0xE00D)
			if itemEnd < 0 {
				return -1
			}
			offset += itemEnd + 8
		} else {
			offset += int(length)
		}
	}
	return -1
}

// parseSequenceItems decodes the Item (FFFE,E000) elements making up an
// SQ element's content, each one itself a nested data set encoded in the
// same VR mode (implicit or explicit) as its parent.
func parseSequenceItems(data []byte, implicit bool) []*Dataset {
	var items []*Dataset
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if group != 0xFFFE || element != 0xE000 {
			break
		}

		var itemBytes []byte
		if length == undefinedLength {
			end := findDelimiter(data[offset:], 0xE00D)
			if end < 0 {
				break
			}
			itemBytes = data[offset : offset+end]
			offset += end + 8
		} else {
			if offset+int(length) > len(data) {
				break
			}
			itemBytes = data[offset : offset+int(length)]
			offset += int(length)
		}

		var item *Dataset
		var err error
		if implicit {
			item, err = parseImplicitVRDataset(itemBytes)
		} else {
			item, err = ParseDataset(itemBytes)
		}
		if err == nil {
			items = append(items, item)
		}
	}
	return items
}

// parseElementValue parses the value based on the tag and raw data
func parseElementValue(tag Tag, data []byte) interface{} {
	if len(data) == 0 {
		return ""
	}

	// For most query elements, we treat them as strings
	// Remove null padding
	value := string(data)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}

	return strings.TrimSpace(value)
}

// determineVR determines the VR based on the tag (simplified mapping)
func determineVR(tag Tag) string {
	// This is a simplified mapping - in practice you'd use a DICOM dictionary
	switch tag {
	case Tag{0x0008, 0x0005}: // Specific Character Set
		return VR_CS
	case Tag{0x0008, 0x0016}: // SOP Class UID
		return VR_UI
	case Tag{0x0008, 0x0018}: // SOP Instance UID
		return VR_UI
	case Tag{0x0008, 0x0020}: // Study Date
		return VR_DA
	case Tag{0x0008, 0x0030}: // Study Time
		return VR_TM
	case Tag{0x0008, 0x0050}: // Accession Number
		return VR_SH
	case Tag{0x0008, 0x0052}: // Query/Retrieve Level
		return VR_CS
	case Tag{0x0008, 0x0054}: // Retrieve AE Title
		return VR_AE
	case Tag{0x0008, 0x0060}: // Modality
		return VR_CS
	case Tag{0x0008, 0x0080}: // Institution Name
		return VR_LO
	case Tag{0x0008, 0x0090}: // Referring Physician's Name
		return VR_PN
	case Tag{0x0008, 0x1030}: // Study Description
		return VR_LO
	case Tag{0x0008, 0x103E}: // Series Description
		return VR_LO
	case Tag{0x0008, 0x1040}: // Institutional Department Name
		return VR_LO
	case Tag{0x0008, 0x1050}: // Performing Physician's Name
		return VR_PN
	case Tag{0x0008, 0x1060}: // Name of Physician(s) Reading Study
		return VR_PN
	case Tag{0x0008, 0x1070}: // Operators' Name
		return VR_PN
	case Tag{0x0010, 0x0010}: // Patient's Name
		return VR_PN
	case Tag{0x0010, 0x0020}: // Patient ID
		return VR_LO
	case Tag{0x0010, 0x0030}: // Patient's Birth Date
		return VR_DA
	case Tag{0x0010, 0x0040}: // Patient's Sex
		return VR_CS
	case Tag{0x0010, 0x1010}: // Patient's Age
		return VR_AS
	case Tag{0x0018, 0x0015}: // Body Part Examined
		return VR_CS
	case Tag{0x0020, 0x000D}: // Study Instance UID
		return VR_UI
	case Tag{0x0020, 0x000E}: // Series Instance UID
		return VR_UI
	case Tag{0x0020, 0x0010}: // Study ID
		return VR_SH
	case Tag{0x0020, 0x0011}: // Series Number
		return VR_IS
	case Tag{0x0020, 0x0013}: // Instance Number
		return VR_IS
	case Tag{0x0020, 0x0020}: // Patient Orientation
		return VR_CS
	case Tag{0x0040, 0x0100}: // Scheduled Procedure Step Sequence
		return VR_SQ
	case Tag{0x0040, 0x0001}: // Scheduled Station AE Title
		return VR_AE
	case Tag{0x0040, 0x0002}: // Scheduled Procedure Step Start Date
		return VR_DA
	case Tag{0x0040, 0x0003}: // Scheduled Procedure Step Start Time
		return VR_TM
	case Tag{0x0040, 0x0006}: // Scheduled Performing Physician's Name
		return VR_PN
	case Tag{0x0040, 0x0007}: // Scheduled Procedure Step Description
		return VR_LO
	case Tag{0x0040, 0x0009}: // Scheduled Procedure Step ID
		return VR_SH
	case Tag{0x0040, 0x0010}: // Scheduled Station Name
		return VR_SH
	case Tag{0x0040, 0x0011}: // Scheduled Procedure Step Location
		return VR_SH
	case Tag{0x0040, 0x0400}: // Comments on the Scheduled Procedure Step
		return VR_LT
	case Tag{0x0040, 0x1001}: // Requested Procedure ID
		return VR_SH
	case Tag{0x0040, 0x0275}: // Request Attributes Sequence
		return VR_SQ
	case Tag{0x0008, 0x0021}: // Series Date
		return VR_DA
	case Tag{0x0008, 0x0022}: // Acquisition Date
		return VR_DA
	case Tag{0x0008, 0x0023}: // Content Date
		return VR_DA
	case Tag{0x0008, 0x0031}: // Series Time
		return VR_TM
	case Tag{0x0008, 0x0033}: // Content Time
		return VR_TM
	case Tag{0x0008, 0x0056}: // Instance Availability
		return VR_CS
	case Tag{0x0008, 0x0061}: // Modalities in Study
		return VR_CS
	case Tag{0x0020, 0x1206}: // Number of Study Related Series
		return VR_IS
	case Tag{0x0020, 0x1208}: // Number of Study Related Instances
		return VR_IS
	case Tag{0x0020, 0x1209}: // Number of Series Related Instances
		return VR_IS
	case Tag{0x0028, 0x0008}: // Number of Frames
		return VR_IS
	case Tag{0x0028, 0x0010}: // Rows
		return VR_US
	case Tag{0x0028, 0x0011}: // Columns
		return VR_US
	case Tag{0x0028, 0x0100}: // Bits Allocated
		return VR_US
	default:
		return VR_UN // Unknown
	}
}

// DetermineVR exposes the package's tag-to-VR lookup for callers that need
// to synthesize elements (C-FIND/C-MOVE identifiers, default attribute
// sets) without already knowing a VR.
func DetermineVR(tag Tag) string {
	return determineVR(tag)
}

// EncodeDataset encodes a dataset to bytes (Explicit VR Little Endian)
func (d *Dataset) EncodeDataset() []byte {
	var result []byte

	// Collect tags and sort them (DICOM requires tag ordering)
	var tags []Tag
	for tag := range d.Elements {
		tags = append(tags, tag)
	}

	// Sort tags by group, then by element
	for i := 0; i < len(tags)-1; i++ {
		for j := i + 1; j < len(tags); j++ {
			if tags[i].Group > tags[j].Group ||
				(tags[i].Group == tags[j].Group && tags[i].Element > tags[j].Element) {
				tags[i], tags[j] = tags[j], tags[i]
			}
		}
	}

	// Add elements in sorted tag order (using Explicit VR Little Endian)
	for _, tag := range tags {
		element := d.Elements[tag]

		// Tag (4 bytes - Little Endian)
		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		// VR (2 bytes - ASCII)
		result = append(result, []byte(element.VR)...)

		// Encode value
		valueBytes := encodeElementValue(element)

		// Add padding if odd length (DICOM requires even lengths)
		if len(valueBytes)%2 == 1 {
			valueBytes = append(valueBytes, 0x20) // Use space padding for text elements
		}

		// For Explicit VR, length encoding depends on VR type
		// Short VRs (most string types): 2-byte length
		// Long VRs (OB, OW, SQ, UN, UT): 4-byte length with 2 reserved bytes
		isLongVR := element.VR == VR_OB || element.VR == VR_OW || element.VR == VR_SQ ||
			element.VR == VR_UN || element.VR == VR_UT || element.VR == VR_OD ||
			element.VR == VR_OF || element.VR == VR_OL || element.VR == VR_OV ||
			element.VR == VR_UC || element.VR == VR_UR

		if isLongVR {
			// Long VR format: VR (2 bytes) + Reserved (2 bytes) + Length (4 bytes)
			result = append(result, 0x00, 0x00) // Reserved bytes
			lengthBytes := make([]byte, 4)
			binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
			result = append(result, lengthBytes...)
		} else {
			// Short VR format: VR (2 bytes) + Length (2 bytes)
			if len(valueBytes) > 65535 {
				// Value too long for short VR format - truncate or error
				valueBytes = valueBytes[:65535]
			}
			lengthBytes := make([]byte, 2)
			binary.LittleEndian.PutUint16(lengthBytes, uint16(len(valueBytes)))
			result = append(result, lengthBytes...)
		}

		// Value (already padded)
		result = append(result, valueBytes...)
	}

	return result
}

// EncodeDatasetWithTransferSyntax encodes a dataset using the provided transfer syntax.
func EncodeDatasetWithTransferSyntax(dataset *Dataset, transferSyntaxUID string) ([]byte, error) {
	if dataset == nil {
		return nil, nil
	}

	switch transferSyntaxUID {
	case "", TransferSyntaxExplicitVRLittleEndian:
		return dataset.EncodeDataset(), nil
	case TransferSyntaxImplicitVRLittleEndian:
		return encodeImplicitVRDataset(dataset), nil
	default:
		return dataset.EncodeDataset(), nil
	}
}

func encodeImplicitVRDataset(dataset *Dataset) []byte {
	var result []byte

	var tags []Tag
	for tag := range dataset.Elements {
		tags = append(tags, tag)
	}

	for i := 0; i < len(tags)-1; i++ {
		for j := i + 1; j < len(tags); j++ {
			if tags[i].Group > tags[j].Group ||
				(tags[i].Group == tags[j].Group && tags[i].Element > tags[j].Element) {
				tags[i], tags[j] = tags[j], tags[i]
			}
		}
	}

	for _, tag := range tags {
		element := dataset.Elements[tag]

		tagBytes := make([]byte, 4)
		binary.LittleEndian.PutUint16(tagBytes[0:2], tag.Group)
		binary.LittleEndian.PutUint16(tagBytes[2:4], tag.Element)
		result = append(result, tagBytes...)

		valueBytes := encodeElementValue(element)
		if len(valueBytes)%2 == 1 {
			valueBytes = append(valueBytes, 0x20)
		}

		lengthBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthBytes, uint32(len(valueBytes)))
		result = append(result, lengthBytes...)
		result = append(result, valueBytes...)
	}

	return result
}

// encodeElementValue encodes an element value to bytes
func encodeElementValue(element *Element) []byte {
	switch v := element.Value.(type) {
	case string:
		// For string VRs, ensure proper encoding
		value := v
		// Remove any existing null terminators and add proper padding
		value = strings.TrimRight(value, "\x00")
		return []byte(value)
	case []byte:
		return v
	case []string:
		joined := strings.Join(v, "\\")
		joined = strings.TrimRight(joined, "\x00")
		return []byte(joined)
	case int:
		return []byte(fmt.Sprintf("%d", v))
	case uint16:
		result := make([]byte, 2)
		binary.LittleEndian.PutUint16(result, v)
		return result
	case uint32:
		result := make([]byte, 4)
		binary.LittleEndian.PutUint32(result, v)
		return result
	case []*Dataset:
		return encodeSequenceItems(v)
	default:
		return []byte(fmt.Sprintf("%v", v))
	}
}

// encodeSequenceItems encodes a sequence's items as a run of Item
// (FFFE,E000) elements, each with a declared length wrapping the item's
// own data set bytes. Items are always encoded Implicit VR Little Endian,
// since every caller that builds a sequence (the QIDO/MWL identifier
// builders) targets a C-FIND/C-MOVE command data set, which PS3.7 always
// carries in that transfer syntax.
func encodeSequenceItems(items []*Dataset) []byte {
	var result []byte
	for _, item := range items {
		itemBytes := encodeImplicitVRDataset(item)
		if len(itemBytes)%2 == 1 {
			itemBytes = append(itemBytes, 0x00)
		}

		result = append(result, 0xFE, 0xFF, 0x00, 0xE0) // Item tag (FFFE,E000)
		length := make([]byte, 4)
		binary.LittleEndian.PutUint32(length, uint32(len(itemBytes)))
		result = append(result, length...)
		result = append(result, itemBytes...)
	}
	return result
}
