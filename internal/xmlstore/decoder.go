package xmlstore

import (
	"bytes"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

// Decoder reads an Objects document and builds objects through a factory.
type Decoder struct {
	d       *xml.Decoder
	factory *cosem.Factory
	logger  *slog.Logger
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader, factory *cosem.Factory, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		d:       xml.NewDecoder(r),
		factory: factory,
		logger:  logger.With("component", "xmlstore"),
	}
}

func formatErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", dlms.ErrFormat, fmt.Sprintf(format, args...))
}

// next returns the next start or end element, skipping the prolog,
// comments and whitespace. Other text is an error.
func (dec *Decoder) next() (xml.Token, error) {
	for {
		tok, err := dec.d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, formatErr("unexpected end of document")
			}
			return nil, fmt.Errorf("%w: %w", dlms.ErrFormat, err)
		}
		switch t := tok.(type) {
		case xml.StartElement, xml.EndElement:
			return t, nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return nil, formatErr("unexpected text %q", strings.TrimSpace(string(t)))
			}
		}
	}
}

// text collects the character data of an element that has no children.
func (dec *Decoder) text(start xml.StartElement) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return "", fmt.Errorf("%w: <%s>: %w", dlms.ErrFormat, start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			return "", formatErr("<%s> inside text element <%s>", t.Name.Local, start.Name.Local)
		case xml.EndElement:
			return sb.String(), nil
		}
	}
}

func attr(se xml.StartElement, name string) (string, bool) {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Decode reads the whole document.
func (dec *Decoder) Decode() ([]cosem.Object, error) {
	tok, err := dec.next()
	if err != nil {
		return nil, err
	}
	root, ok := tok.(xml.StartElement)
	if !ok || root.Name.Local != rootElement {
		return nil, formatErr("document root must be <%s>", rootElement)
	}
	var objs []cosem.Object
	for {
		tok, err := dec.next()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return objs, nil
		case xml.StartElement:
			obj, err := dec.decodeObject(t)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", len(objs)+1, err)
			}
			objs = append(objs, obj)
		}
	}
}

// DecodeInto reads the document and adds every object to c.
func (dec *Decoder) DecodeInto(c *cosem.Collection) (int, error) {
	objs, err := dec.Decode()
	if err != nil {
		return 0, err
	}
	for i, obj := range objs {
		if err := c.Add(obj); err != nil {
			return i, err
		}
	}
	return len(objs), nil
}

type attributeNode struct {
	index int
	name  string
	value dlms.Value
}

type objectNode struct {
	typ         cosem.ObjectType
	classID     uint16
	sn          uint16
	ln          string
	version     uint8
	description string
	attributes  []attributeNode
}

func (dec *Decoder) decodeObject(start xml.StartElement) (cosem.Object, error) {
	n := objectNode{}
	if t, ok := cosem.ParseObjectType(start.Name.Local); ok {
		n.typ, n.classID = t, uint16(t)
	} else if start.Name.Local != "Object" {
		dec.logger.Debug("unknown object element", "name", start.Name.Local)
	}
	if s, ok := attr(start, attrClassID); ok {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return nil, formatErr("<%s> %s %q", start.Name.Local, attrClassID, s)
		}
		n.classID = uint16(id)
	}

	for {
		tok, err := dec.next()
		if err != nil {
			return nil, err
		}
		child, ok := tok.(xml.StartElement)
		if !ok {
			break
		}
		switch child.Name.Local {
		case fieldSN, fieldLN, fieldVersion, fieldDescription:
			if err := dec.decodeField(&n, child); err != nil {
				return nil, err
			}
		default:
			a, err := dec.decodeAttribute(child)
			if err != nil {
				return nil, err
			}
			n.attributes = append(n.attributes, a)
		}
	}
	return dec.build(n)
}

func (dec *Decoder) decodeField(n *objectNode, start xml.StartElement) error {
	s, err := dec.text(start)
	if err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	switch start.Name.Local {
	case fieldSN:
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return formatErr("%s %q", fieldSN, s)
		}
		n.sn = uint16(v)
	case fieldLN:
		n.ln = s
	case fieldVersion:
		v, err := strconv.ParseUint(s, 10, 8)
		if err != nil {
			return formatErr("%s %q", fieldVersion, s)
		}
		n.version = uint8(v)
	case fieldDescription:
		n.description = s
	}
	return nil
}

func (dec *Decoder) decodeAttribute(start xml.StartElement) (attributeNode, error) {
	a := attributeNode{name: start.Name.Local}
	if s, ok := attr(start, attrIndex); ok {
		idx, err := strconv.Atoi(s)
		if err != nil {
			return a, formatErr("<%s> %s %q", a.name, attrIndex, s)
		}
		a.index = idx
	}
	v, err := dec.decodeValue(start, 0)
	if err != nil {
		return a, fmt.Errorf("<%s>: %w", a.name, err)
	}
	a.value = v
	return a, nil
}

// decodeValue reads the value of start. Text is parsed as the display type.
func (dec *Decoder) decodeValue(start xml.StartElement, depth int) (dlms.Value, error) {
	if depth > dlms.MaxDepth {
		return dlms.Value{}, formatErr("nesting deeper than %d", dlms.MaxDepth)
	}
	typeName, ok := attr(start, attrType)
	if !ok {
		return dlms.Value{}, formatErr("<%s> has no %s", start.Name.Local, attrType)
	}
	wire, err := dlms.ParseTypeName(typeName)
	if err != nil {
		return dlms.Value{}, fmt.Errorf("%w: %w", dlms.ErrFormat, err)
	}
	display := wire
	if s, ok := attr(start, attrUIType); ok {
		if display, err = dlms.ParseTypeName(s); err != nil {
			return dlms.Value{}, fmt.Errorf("%w: %w", dlms.ErrFormat, err)
		}
	}

	if wire.IsContainer() {
		var items []dlms.Value
		for {
			tok, err := dec.next()
			if err != nil {
				return dlms.Value{}, err
			}
			child, ok := tok.(xml.StartElement)
			if !ok {
				break
			}
			if child.Name.Local != itemElement {
				return dlms.Value{}, formatErr("<%s> inside %s, want <%s>", child.Name.Local, wire, itemElement)
			}
			item, err := dec.decodeValue(child, depth+1)
			if err != nil {
				return dlms.Value{}, err
			}
			items = append(items, item)
		}
		if wire == dlms.TypeArray {
			return dlms.NewArray(items...), nil
		}
		return dlms.NewStructure(items...), nil
	}

	s, err := dec.text(start)
	if err != nil {
		return dlms.Value{}, err
	}
	if enc, ok := attr(start, attrEncoding); ok {
		if enc != encodingHex || display != dlms.TypeVisibleString {
			return dlms.Value{}, formatErr("<%s> %s=%q not valid for %s", start.Name.Local, attrEncoding, enc, display)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return dlms.Value{}, formatErr("<%s> hex payload: %v", start.Name.Local, err)
		}
		return dlms.NewVisibleString(string(raw)), nil
	}
	return dlms.ParseText(display, s)
}

func (dec *Decoder) build(n objectNode) (cosem.Object, error) {
	obj := dec.factory.Create(n.typ, n.classID, n.version)
	if n.sn != 0 {
		if err := obj.Negotiate(n.version, n.sn); err != nil {
			return nil, err
		}
	}
	if n.description != "" {
		obj.SetDescription(n.description)
	}
	if n.ln != "" {
		ln, err := cosem.ParseLogicalName(n.ln)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", dlms.ErrFormat, err)
		}
		if err := obj.SetValue(nil, 1, dlms.NewOctetString(ln[:])); err != nil {
			return nil, err
		}
	}
	schema := obj.Schema()
	for _, a := range n.attributes {
		index := a.index
		if index == 0 {
			index = schema.FindAttribute(a.name)
		}
		if index == 0 {
			return nil, formatErr("attribute <%s> has no index and no schema match", a.name)
		}
		if err := obj.SetValue(nil, index, a.value); err != nil {
			return nil, fmt.Errorf("%w: %s %s attribute %d: %w", dlms.ErrFormat, obj.Identity().Type, n.ln, index, err)
		}
	}
	return obj, nil
}

// DecodeValue reads a single <Value> document written by EncodeValue.
func DecodeValue(r io.Reader) (dlms.Value, error) {
	dec := NewDecoder(r, nil, nil)
	tok, err := dec.next()
	if err != nil {
		return dlms.Value{}, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok {
		return dlms.Value{}, formatErr("expected <%s>", valueElement)
	}
	return dec.decodeValue(start, 0)
}
