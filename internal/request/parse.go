package request

import (
	"crypto/md5"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/mattchengg/fusgo/internal/auth"
	"github.com/mattchengg/fusgo/internal/fuserr"
)

// V4Key is a server-derived decryption key and the logic-check string it was
// hashed from.
type V4Key struct {
	Key [16]byte
	Raw string
}

// BinaryFileInfo describes the firmware file a BINARY_INFORM resolved to.
type BinaryFileInfo struct {
	Path     string
	FileName string
	Size     uint64
	CRC32    *int32 // nil when the server sent no CRC
	V4Key    *V4Key // nil for .enc2 files
}

// IsV4 reports whether the file uses the server-derived key scheme.
func (i *BinaryFileInfo) IsV4() bool {
	return strings.HasSuffix(i.FileName, ".enc4")
}

// Response is a decoded FUS response.
type Response struct {
	Status  string
	Results Fields
	Put     Fields
	Raw     string
}

// ParseResponse decodes a FUS response body. It does not check Status.
func ParseResponse(body string) (*Response, error) {
	var msg FUSMsg
	if err := xml.Unmarshal([]byte(body), &msg); err != nil {
		return nil, &fuserr.ProtocolError{Reason: "malformed response: " + err.Error(), Raw: body}
	}
	return &Response{
		Status:  msg.FUSBody.Results.Get("Status"),
		Results: msg.FUSBody.Results,
		Put:     msg.FUSBody.Put,
		Raw:     body,
	}, nil
}

// CheckStatus returns a ProtocolError unless the response status is 200.
func (r *Response) CheckStatus() error {
	var reason string
	switch r.Status {
	case "200":
		return nil
	case "":
		reason = "response has no Status"
	case "F01":
		reason = "invalid firmware"
	case "408":
		reason = "invalid IMEI or serial"
	default:
		reason = "bad return status"
	}
	return &fuserr.ProtocolError{Status: r.Status, Reason: reason, Raw: r.Raw}
}

// ParseBinaryInform decodes a BINARY_INFORM response.
func ParseBinaryInform(body string) (*BinaryFileInfo, error) {
	resp, err := ParseResponse(body)
	if err != nil {
		return nil, err
	}
	return resp.BinaryInfo()
}

// BinaryInfo extracts the file metadata from a BINARY_INFORM response.
func (r *Response) BinaryInfo() (*BinaryFileInfo, error) {
	if err := r.CheckStatus(); err != nil {
		return nil, err
	}
	name := r.Put.Get("BINARY_NAME")
	sizeText := r.Put.Get("BINARY_BYTE_SIZE")
	if name == "" || sizeText == "" {
		return nil, &fuserr.ProtocolError{Status: r.Status, Reason: "no binary file in response", Raw: r.Raw}
	}
	size, err := strconv.ParseUint(sizeText, 10, 64)
	if err != nil {
		return nil, &fuserr.ProtocolError{Status: r.Status, Reason: "malformed BINARY_BYTE_SIZE " + strconv.Quote(sizeText), Raw: r.Raw}
	}

	info := &BinaryFileInfo{
		Path:     r.Put.Get("MODEL_PATH"),
		FileName: name,
		Size:     size,
		V4Key:    r.v4Key(),
	}
	if crc := r.Put.Get("BINARY_CRC"); crc != "" {
		v, err := strconv.ParseInt(crc, 10, 64)
		if err != nil {
			return nil, &fuserr.ProtocolError{Status: r.Status, Reason: "malformed BINARY_CRC " + strconv.Quote(crc), Raw: r.Raw}
		}
		// The server prints the unsigned value; compare it as the same 32 bits.
		c := int32(v)
		info.CRC32 = &c
	}
	return info, nil
}

func (r *Response) v4Key() *V4Key {
	fw := r.Results.Get("LATEST_FW_VERSION")
	if fw == "" {
		fw = r.Put.Get("LATEST_FW_VERSION")
	}
	logic := r.Put.Get("LOGIC_VALUE_FACTORY")
	if logic == "" {
		logic = r.Put.Get("LOGIC_VALUE_HOME")
	}
	if fw == "" || logic == "" {
		return nil
	}
	raw, err := auth.LogicCheck(fw, logic)
	if err != nil {
		return nil
	}
	return &V4Key{Key: md5.Sum([]byte(raw)), Raw: raw}
}

// ServedVersion reconstructs the PDA/CSC/CP/PDA firmware string of the files
// the server offers. ok is false when the response does not name a file
// carrying the model.
func (r *Response) ServedVersion(model string) (served string, ok bool) {
	var dataFile string
	for _, key := range []string{"DEVICE_USER_DATA_FILE", "DEVICE_BOOT_FILE", "DEVICE_PDA_CODE1_FILE"} {
		if dataFile = r.Put.Get(key); dataFile != "" {
			break
		}
	}
	version, versionSuffix, ok := modelPart(dataFile, model)
	if !ok {
		return "", false
	}

	cscFile := r.Put.Get("DEVICE_CSC_HOME_FILE")
	if cscFile == "" {
		cscFile = r.Put.Get("DEVICE_CSC_FILE")
	}
	csc, _, found := modelPart(cscFile, model)
	if !found {
		csc = versionSuffix
	}
	cp, _, found := modelPart(r.Put.Get("DEVICE_PHONE_FONT_FILE"), model)
	if !found {
		cp = version
	}
	pda, _, found := modelPart(r.Put.Get("DEVICE_PDA_CODE1_FILE"), model)
	if !found {
		pda = version
	}
	return strings.Join([]string{version, csc, cp, pda}, "/"), true
}

// modelPart returns the first "_"-separated part of file starting with the
// model code, and the part after it.
func modelPart(file, model string) (part, next string, ok bool) {
	if file == "" {
		return "", "", false
	}
	short := model
	if _, after, found := strings.Cut(model, "-"); found {
		short = after
	}
	compact := strings.ReplaceAll(model, "-", "")
	parts := strings.Split(file, "_")
	for i, p := range parts {
		if strings.HasPrefix(p, short) || strings.HasPrefix(p, compact) {
			if i+1 < len(parts) {
				next = parts[i+1]
			}
			return p, next, true
		}
	}
	return "", "", false
}
