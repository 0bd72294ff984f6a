// Package request builds and parses the XML bodies of the FUS binary
// endpoints and resolves firmware metadata through a fusclient.Client.
package request

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/mattchengg/fusgo/internal/auth"
)

// Client version reported to the server in BINARY_INFORM.
const ClientVersion = "4.3.23123_1"

type FUSMsg struct {
	XMLName xml.Name `xml:"FUSMsg"`
	FUSHdr  FUSHdr   `xml:"FUSHdr"`
	FUSBody FUSBody  `xml:"FUSBody"`
}

type FUSHdr struct {
	ProtoVer string `xml:"ProtoVer"`
}

type FUSBody struct {
	Results Fields `xml:"Results,omitempty"`
	Put     Fields `xml:"Put,omitempty"`
}

// Field is one <NAME><Data>value</Data></NAME> element.
type Field struct {
	Name string
	Data string
}

// Fields is an ordered list of FUS data elements. Elements without a Data
// child, like Results/Status, keep their text content in Data.
type Fields []Field

// Get returns the value of the first field called name.
func (f Fields) Get(name string) string {
	for _, e := range f {
		if e.Name == name {
			return e.Data
		}
	}
	return ""
}

func (f Fields) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, elem := range f {
		elemStart := xml.StartElement{Name: xml.Name{Local: elem.Name}}
		if err := e.EncodeToken(elemStart); err != nil {
			return err
		}
		if err := e.EncodeElement(elem.Data, xml.StartElement{Name: xml.Name{Local: "Data"}}); err != nil {
			return err
		}
		if err := e.EncodeToken(elemStart.End()); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

func (f *Fields) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v struct {
				Data *string `xml:"Data"`
				Text string  `xml:",chardata"`
			}
			if err := d.DecodeElement(&v, &t); err != nil {
				return err
			}
			data := v.Text
			if v.Data != nil {
				data = *v.Data
			}
			*f = append(*f, Field{Name: t.Name.Local, Data: strings.TrimSpace(data)})
		case xml.EndElement:
			return nil
		}
	}
}

func marshal(put Fields) (string, error) {
	msg := FUSMsg{
		FUSHdr:  FUSHdr{ProtoVer: "1.0"},
		FUSBody: FUSBody{Put: put},
	}
	data, err := xml.Marshal(msg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// BuildBinaryInform returns the BINARY_INFORM body for a firmware triple.
// imei may be empty.
func BuildBinaryInform(fw, model, region, imei, nonce string) (string, error) {
	check, err := auth.LogicCheck(fw, nonce)
	if err != nil {
		return "", fmt.Errorf("binary inform: %w", err)
	}
	put := Fields{
		{"ACCESS_MODE", "2"},
		{"BINARY_NATURE", "1"},
		{"CLIENT_PRODUCT", "Smart Switch"},
		{"CLIENT_VERSION", ClientVersion},
		{"DEVICE_FW_VERSION", fw},
		{"DEVICE_LOCAL_CODE", region},
		{"DEVICE_MODEL_NAME", model},
		{"UPGRADE_VARIABLE", "0"},
		{"OBEX_SUPPORT", "0"},
		{"DEVICE_IMEI_PUSH", imei},
		{"DEVICE_PLATFORM", "Android"},
		{"LOGIC_CHECK", check},
	}

	switch region {
	case "EUX":
		put = append(put,
			Field{"DEVICE_AID_CODE", region},
			Field{"DEVICE_CC_CODE", "DE"},
			Field{"MCC_NUM", "262"},
			Field{"MNC_NUM", "01"},
		)
	case "EUY":
		put = append(put,
			Field{"DEVICE_AID_CODE", region},
			Field{"DEVICE_CC_CODE", "RS"},
			Field{"MCC_NUM", "220"},
			Field{"MNC_NUM", "01"},
		)
	}
	return marshal(put)
}

// BuildBinaryInit returns the BINARY_INIT body for fileName.
func BuildBinaryInit(fileName, nonce string) (string, error) {
	check, err := auth.LogicCheck(initCheckInput(fileName), nonce)
	if err != nil {
		return "", fmt.Errorf("binary init: %w", err)
	}
	return marshal(Fields{
		{"BINARY_FILE_NAME", fileName},
		{"LOGIC_CHECK", check},
	})
}

// initCheckInput takes the name up to the first dot and keeps its tail from
// len-(16%len). Names of 16 characters or less leave less than 16 characters
// and are rejected by LogicCheck.
func initCheckInput(fileName string) string {
	base, _, _ := strings.Cut(fileName, ".")
	if base == "" {
		return ""
	}
	return base[len(base)-16%len(base):]
}
