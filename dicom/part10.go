package dicom

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Part10ImplementationClassUID and Part10ImplementationVersionName identify
// this module as the writer of a synthesized Part 10 file, mirroring the
// values the association layer presents during A-ASSOCIATE negotiation.
const (
	Part10ImplementationClassUID    = "1.2.826.0.1.3680043.10.1001.1"
	Part10ImplementationVersionName = "DICOMBRIDGE_1.0"
)

// BuildPart10 wraps datasetBytes (already encoded in transferSyntaxUID) in a
// 128-byte preamble, "DICM" prefix, and a File Meta Information group
// (0002,xxxx), always itself Explicit VR Little Endian per PS3.10 §7.1
// regardless of the data set's own transfer syntax. This is how the
// Store-SCP gives a bare DIMSE C-STORE data set - which never carries file
// meta information on the wire - the file identity WADO-RS retrieval and
// any downstream archive expects.
func BuildPart10(sopClassUID, sopInstanceUID, transferSyntaxUID string, datasetBytes []byte) []byte {
	meta := NewDataset()
	meta.AddElement(Tag{0x0002, 0x0001}, VR_OB, []byte{0x00, 0x01})
	meta.AddElement(Tag{0x0002, 0x0002}, VR_UI, sopClassUID)
	meta.AddElement(Tag{0x0002, 0x0003}, VR_UI, sopInstanceUID)
	meta.AddElement(Tag{0x0002, 0x0010}, VR_UI, transferSyntaxUID)
	meta.AddElement(Tag{0x0002, 0x0012}, VR_UI, Part10ImplementationClassUID)
	meta.AddElement(Tag{0x0002, 0x0013}, VR_SH, Part10ImplementationVersionName)
	metaBytes := meta.EncodeDataset()

	groupLength := make([]byte, 4)
	binary.LittleEndian.PutUint32(groupLength, uint32(len(metaBytes)))
	groupLengthElement := []byte{0x02, 0x00, 0x00, 0x00} // tag (0002,0000)
	groupLengthElement = append(groupLengthElement, []byte(VR_UL)...)
	groupLengthElement = append(groupLengthElement, 0x04, 0x00) // short-VR length = 4
	groupLengthElement = append(groupLengthElement, groupLength...)

	out := make([]byte, 128, 128+4+len(groupLengthElement)+len(metaBytes)+len(datasetBytes))
	out = append(out, []byte("DICM")...)
	out = append(out, groupLengthElement...)
	out = append(out, metaBytes...)
	out = append(out, datasetBytes...)
	return out
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002)
//   - Dataset (the actual DICOM data)
//
// This function is useful when you need to send a DICOM dataset via DIMSE
// operations (like C-STORE), which expect only the dataset without the
// Part 10 wrapper.
//
// Parameters:
//   - data: The complete DICOM Part 10 file data
//
// Returns:
//   - Dataset bytes (without preamble and file meta information)
//   - Error if the data is not a valid DICOM Part 10 file
//
// Example:
//
//	fileData, _ := os.ReadFile("image.dcm")
//	datasetOnly, err := dicom.StripPart10Header(fileData)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Now datasetOnly can be sent via C-STORE
func StripPart10Header(data []byte) ([]byte, error) {
	if len(data) < 132 {
		return nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	// Check for DICM prefix at offset 128
	if string(data[128:132]) != "DICM" {
		return nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	// Skip preamble (128) + DICM (4) = start at offset 132
	offset := 132

	var transferSyntaxUID string

	// Skip all group 0x0002 elements (File Meta Information)
	for offset+8 <= len(data) {
		group := uint16(data[offset]) | (uint16(data[offset+1]) << 8)
		element := uint16(data[offset+2]) | (uint16(data[offset+3]) << 8)

		// If we've passed group 0x0002, we're at the dataset
		if group != 0x0002 {
			break
		}

		// Read VR (2 bytes)
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		// Some VRs use different length encoding
		if vr == "OB" || vr == "OW" || vr == "OF" || vr == "SQ" || vr == "UN" || vr == "UT" {
			// Explicit VR with 32-bit length
			offset += 8 // Skip tag (4) + VR (2) + reserved (2)
			if offset+4 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8) |
				(uint32(data[offset+2]) << 16) | (uint32(data[offset+3]) << 24)
			offset += 4
			valueOffset = offset
		} else {
			// Explicit VR with 16-bit length
			offset += 6 // Skip tag (4) + VR (2)
			if offset+2 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8)
			offset += 2
			valueOffset = offset
		}

		// Check if this is Transfer Syntax UID (0002,0010)
		if group == 0x0002 && element == 0x0010 {
			if valueOffset+int(length) <= len(data) {
				transferSyntaxUID = string(data[valueOffset : valueOffset+int(length)])
				// Remove any padding
				transferSyntaxUID = strings.TrimRight(transferSyntaxUID, "\x00 ")
			}
		}

		// Skip value
		offset += int(length)
		if offset > len(data) {
			break
		}
	}

	if transferSyntaxUID != "" {
		log.Debug().Str("transfer_syntax", transferSyntaxUID).Int("dataset_start_offset", offset).
			Msg("Found Transfer Syntax UID in File Meta Information")
	}

	if offset >= len(data) {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return data[offset:], nil
}

// Part10Meta is the subset of File Meta Information STOW needs to route an
// uploaded instance to C-STORE: its SOP Class/Instance UID and the
// transfer syntax the dataset bytes that follow are encoded in.
type Part10Meta struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string
}

// ParsePart10 splits a Part 10 file into its File Meta Information (parsed
// into Part10Meta) and the raw dataset bytes that follow it.
func ParsePart10(data []byte) (Part10Meta, []byte, error) {
	var meta Part10Meta

	if len(data) < 132 || string(data[128:132]) != "DICM" {
		return meta, nil, fmt.Errorf("not a valid DICOM Part 10 file")
	}

	offset := 132
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		if group != 0x0002 {
			break
		}
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int
		if vr == "OB" || vr == "OW" || vr == "OF" || vr == "SQ" || vr == "UN" || vr == "UT" {
			if offset+12 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			if offset+8 > len(data) {
				break
			}
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}

		if valueOffset+int(length) > len(data) {
			break
		}
		value := strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")

		switch element {
		case 0x0002:
			meta.SOPClassUID = value
		case 0x0003:
			meta.SOPInstanceUID = value
		case 0x0010:
			meta.TransferSyntaxUID = value
		}

		offset = valueOffset + int(length)
	}

	if meta.TransferSyntaxUID == "" {
		return meta, nil, fmt.Errorf("no Transfer Syntax UID in File Meta Information")
	}

	return meta, data[offset:], nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}
