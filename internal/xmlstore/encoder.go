// Package xmlstore reads and writes object collections as XML documents:
//
//	<Objects>
//	  <Register>
//	    <LN>1.0.1.8.0.255</LN>
//	    <value Index="2" Type="6">1500</value>
//	    <scaler_unit Index="3" Type="2">
//	      <Item Type="15">1</Item>
//	      <Item Type="22">30</Item>
//	    </scaler_unit>
//	  </Register>
//	</Objects>
//
// Attribute elements carry the numeric wire type tag in Type and, when the
// stored value is presented differently, the display type tag in UIType.
// The decoder also accepts type names ("uint32", "octstr", ...).
package xmlstore

import (
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

const (
	rootElement  = "Objects"
	itemElement  = "Item"
	valueElement = "Value"

	attrIndex   = "Index"
	attrType    = "Type"
	attrUIType  = "UIType"
	attrClassID = "ClassID"

	// attrEncoding marks string payloads written as hex because XML cannot carry them.
	attrEncoding = "Encoding"
	encodingHex  = "hex"

	fieldSN          = "SN"
	fieldLN          = "LN"
	fieldVersion     = "Version"
	fieldDescription = "Description"

	// fallbackAttributeElement names attributes whose schema name is not a valid XML name.
	fallbackAttributeElement = "Attribute"
)

var xmlName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Encoder writes an Objects document. The writer stays owned by the caller.
type Encoder struct {
	enc *xml.Encoder
}

// NewEncoder returns an encoder writing indented XML to w.
func NewEncoder(w io.Writer) *Encoder {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return &Encoder{enc: enc}
}

// Encode writes objs as one document. Attributes holding None are left out.
func (e *Encoder) Encode(objs []cosem.Object) error {
	if err := e.enc.EncodeToken(xml.ProcInst{Target: "xml", Inst: []byte(`version="1.0" encoding="utf-8"`)}); err != nil {
		return err
	}
	root := xml.StartElement{Name: xml.Name{Local: rootElement}}
	if err := e.enc.EncodeToken(root); err != nil {
		return err
	}
	for _, obj := range objs {
		if err := e.encodeObject(obj); err != nil {
			id := obj.Identity()
			return fmt.Errorf("encode %s %s: %w", id.Type, id.LogicalName, err)
		}
	}
	if err := e.enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return e.enc.Flush()
}

func (e *Encoder) encodeObject(obj cosem.Object) error {
	id := obj.Identity()
	start := xml.StartElement{Name: xml.Name{Local: id.Type.String()}}
	if !cosem.Implemented(id.Type) || uint16(id.Type) != id.ClassID {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: attrClassID}, Value: strconv.Itoa(int(id.ClassID))})
	}
	if err := e.enc.EncodeToken(start); err != nil {
		return err
	}
	if id.ShortName != 0 {
		if err := e.textElement(fieldSN, strconv.Itoa(int(id.ShortName))); err != nil {
			return err
		}
	}
	if id.HasLogicalName {
		if err := e.textElement(fieldLN, id.LogicalName.String()); err != nil {
			return err
		}
	}
	if id.Version != 0 {
		if err := e.textElement(fieldVersion, strconv.Itoa(int(id.Version))); err != nil {
			return err
		}
	}
	if id.Description != "" {
		if !xmlText(id.Description) {
			return fmt.Errorf("%w: description %q is not valid XML text", dlms.ErrFormat, id.Description)
		}
		if err := e.textElement(fieldDescription, id.Description); err != nil {
			return err
		}
	}
	for index := 2; index <= obj.AttributeCount(); index++ {
		v, err := obj.GetValue(nil, index)
		if err != nil {
			return err
		}
		if v.IsNone() {
			continue
		}
		d, err := obj.Descriptor(index)
		if err != nil {
			return err
		}
		name := d.Name
		if !xmlName.MatchString(name) {
			name = fallbackAttributeElement
		}
		attrs := []xml.Attr{{Name: xml.Name{Local: attrIndex}, Value: strconv.Itoa(index)}}
		if err := e.encodeValue(name, attrs, v, d.Type); err != nil {
			return fmt.Errorf("attribute %d: %w", index, err)
		}
	}
	return e.enc.EncodeToken(start.End())
}

func (e *Encoder) textElement(name, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := e.enc.EncodeToken(start); err != nil {
		return err
	}
	if err := e.enc.EncodeToken(xml.CharData(text)); err != nil {
		return err
	}
	return e.enc.EncodeToken(start.End())
}

// xmlText reports whether s survives a trip through XML character data.
func xmlText(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		switch {
		case r == '\t', r == '\n', r == '\r':
		case r < 0x20, r == 0xFFFE, r == 0xFFFF:
			return false
		}
	}
	return true
}

// encodeValue writes v as element name. wire is the on-the-wire type; TypeNone
// means the value's own type. None is always written as Type="0".
func (e *Encoder) encodeValue(name string, attrs []xml.Attr, v dlms.Value, wire dlms.DataType) error {
	if wire == dlms.TypeNone || v.IsNone() {
		wire = v.Type()
	}
	if !wire.Known() || !v.Type().Known() {
		return fmt.Errorf("%w: 0x%02X", dlms.ErrUnknownType, uint8(v.Type()))
	}
	attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrType}, Value: strconv.Itoa(int(wire))})
	if v.Type() != wire && !v.IsNone() {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrUIType}, Value: strconv.Itoa(int(v.Type()))})
	}
	text := v.Text()
	if s, ok := v.Str(); ok && !xmlText(s) {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: attrEncoding}, Value: encodingHex})
		text = strings.ToUpper(hex.EncodeToString([]byte(s)))
	}
	start := xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs}
	if err := e.enc.EncodeToken(start); err != nil {
		return err
	}
	if items, ok := v.Items(); ok {
		for _, item := range items {
			if err := e.encodeValue(itemElement, nil, item, item.Type()); err != nil {
				return err
			}
		}
	} else if text != "" {
		if err := e.enc.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	return e.enc.EncodeToken(start.End())
}

// EncodeValue writes a single value as a <Value> document.
func EncodeValue(w io.Writer, v dlms.Value, wire dlms.DataType) error {
	e := NewEncoder(w)
	if err := e.encodeValue(valueElement, nil, v, wire); err != nil {
		return err
	}
	return e.enc.Flush()
}
