package web

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cosem-go/internal/access"
	"cosem-go/internal/cosem"
	"cosem-go/internal/dlms"
)

const maxBody = 1 << 20

// valueNode is the JSON form of a value: scalars carry their text form,
// containers their items.
type valueNode struct {
	Type  string      `json:"type"`
	Value string      `json:"value,omitempty"`
	Items []valueNode `json:"items,omitempty"`
}

func newValueNode(v dlms.Value) valueNode {
	n := valueNode{Type: v.Type().String()}
	if items, ok := v.Items(); ok {
		n.Items = make([]valueNode, len(items))
		for i, it := range items {
			n.Items[i] = newValueNode(it)
		}
		return n
	}
	if !v.IsNone() {
		n.Value = v.Text()
	}
	return n
}

type objectSummary struct {
	ClassID     uint16 `json:"class_id"`
	Version     uint8  `json:"version"`
	Type        string `json:"type"`
	LogicalName string `json:"logical_name"`
	ShortName   uint16 `json:"short_name,omitempty"`
	Description string `json:"description,omitempty"`
	Attributes  int    `json:"attributes"`
	Methods     int    `json:"methods"`
}

func summarize(obj cosem.Object) objectSummary {
	id := obj.Identity()
	return objectSummary{
		ClassID:     id.ClassID,
		Version:     id.Version,
		Type:        id.Type.String(),
		LogicalName: id.LogicalName.String(),
		ShortName:   id.ShortName,
		Description: id.Description,
		Attributes:  obj.AttributeCount(),
		Methods:     obj.MethodCount(),
	}
}

type attributeView struct {
	Index   int       `json:"index"`
	Name    string    `json:"name"`
	Type    string    `json:"type"`
	Display string    `json:"display,omitempty"`
	Mode    string    `json:"mode"`
	Access  string    `json:"access"`
	Read    bool      `json:"read"`
	Value   valueNode `json:"value"`
}

type objectView struct {
	objectSummary
	AttributeList []attributeView `json:"attribute_list"`
	MethodList    []string        `json:"method_list"`
}

type resultView struct {
	Index   int        `json:"index"`
	Name    string     `json:"name,omitempty"`
	Type    string     `json:"type,omitempty"`
	Result  string     `json:"result"`
	Value   *valueNode `json:"value,omitempty"`
	Encoded string     `json:"encoded,omitempty"`
	Error   string     `json:"error,omitempty"`
}

func newResultView(r access.AttributeResult) resultView {
	v := resultView{
		Index:  r.Index,
		Name:   r.Name,
		Result: r.Result.String(),
	}
	if r.Type != dlms.TypeNone {
		v.Type = r.Type.String()
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
		return v
	}
	n := newValueNode(r.Value)
	v.Value = &n
	if len(r.Encoded) > 0 {
		v.Encoded = hex.EncodeToString(r.Encoded)
	}
	return v
}

// lookup resolves the {class}/{ln} path values.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (cosem.Object, bool) {
	classID, err := strconv.ParseUint(r.PathValue("class"), 10, 16)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid class id")
		return nil, false
	}
	ln, err := cosem.ParseLogicalName(r.PathValue("ln"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid logical name")
		return nil, false
	}
	obj, ok := s.objects.Find(uint16(classID), ln)
	if !ok {
		s.writeError(w, http.StatusNotFound, "object not found")
		return nil, false
	}
	return obj, true
}

func (s *Server) handleAPIListObjects(w http.ResponseWriter, r *http.Request) {
	objs := s.objects.Sorted()
	out := make([]objectSummary, 0, len(objs))
	for _, obj := range objs {
		out = append(out, summarize(obj))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIGetObject(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.lookup(w, r)
	if !ok {
		return
	}

	view := objectView{objectSummary: summarize(obj)}
	s.service.Locked(obj, func() {
		view.AttributeList = s.attributeViews(obj)
	})

	for _, m := range obj.Schema().Methods {
		view.MethodList = append(view.MethodList, m.Name)
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) attributeViews(obj cosem.Object) []attributeView {
	var out []attributeView
	for i := 1; i <= obj.AttributeCount(); i++ {
		d, err := obj.Descriptor(i)
		if err != nil {
			continue
		}
		// Unreadable attributes are listed without their value.
		v := dlms.NewNone()
		if i == 1 || d.Access.CanRead() {
			if got, err := obj.GetValue(s.service.Settings(), i); err == nil {
				v = got
			}
		}
		a := attributeView{
			Index:  i,
			Name:   d.Name,
			Type:   d.Type.String(),
			Mode:   d.Mode.String(),
			Access: d.Access.String(),
			Read:   d.State == cosem.Read,
			Value:  newValueNode(v),
		}
		if d.Display != dlms.TypeNone {
			a.Display = d.Display.String()
		}
		out = append(out, a)
	}
	return out
}

type readRequest struct {
	// Indices selects attributes; empty reads what the tracker still needs.
	Indices []int `json:"indices"`
	All     bool  `json:"all"`
}

func (s *Server) handleAPIReadObject(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req readRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if len(req.Indices) > obj.AttributeCount() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("indices limited to %d", obj.AttributeCount()))
		return
	}

	var results []access.AttributeResult
	if len(req.Indices) > 0 {
		results = s.service.Read(obj, req.Indices)
	} else {
		results = s.service.ReadPending(obj, req.All)
	}
	s.persist(obj)

	out := make([]resultView, len(results))
	for i, res := range results {
		out[i] = newResultView(res)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// valueRequest carries a value in text form. Type may be omitted for
// attributes with a fixed type.
type valueRequest struct {
	Type  string  `json:"type"`
	Value *string `json:"value"`
}

func (req valueRequest) parse(fallback dlms.DataType) (dlms.Value, error) {
	if req.Value == nil {
		return dlms.NewNone(), nil
	}
	t := fallback
	if req.Type != "" {
		var err error
		if t, err = dlms.ParseTypeName(req.Type); err != nil {
			return dlms.Value{}, err
		}
	}
	if t == dlms.TypeNone {
		return dlms.Value{}, fmt.Errorf("%w: type required", dlms.ErrTypeMismatch)
	}
	return dlms.ParseText(t, *req.Value)
}

func (s *Server) decodeValueRequest(w http.ResponseWriter, r *http.Request) (valueRequest, int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 1 {
		s.writeError(w, http.StatusBadRequest, "invalid index")
		return valueRequest{}, 0, false
	}
	var req valueRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return valueRequest{}, 0, false
	}
	return req, index, true
}

func (s *Server) handleAPIWriteAttribute(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.lookup(w, r)
	if !ok {
		return
	}
	req, index, ok := s.decodeValueRequest(w, r)
	if !ok {
		return
	}
	d, err := obj.Descriptor(index)
	if err != nil {
		s.writeError(w, statusOf(err), err.Error())
		return
	}
	v, err := req.parse(d.DisplayType())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := s.service.WriteValue(obj, index, v)
	if res.OK() {
		s.persist(obj)
	}

	status := http.StatusOK
	if !res.OK() {
		status = statusOf(res.Err)
	}
	s.writeJSON(w, status, newResultView(res))
}

func (s *Server) handleAPIInvokeMethod(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.lookup(w, r)
	if !ok {
		return
	}
	req, index, ok := s.decodeValueRequest(w, r)
	if !ok {
		return
	}
	params, err := req.parse(dlms.TypeNone)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	v, err := s.service.Invoke(obj, index, params)
	if err == nil {
		s.persist(obj)
	}

	if err != nil {
		s.writeJSON(w, statusOf(err), map[string]string{
			"result": access.ResultOf(err).String(),
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"result": dlms.ResultSuccess.String(),
		"value":  newValueNode(v),
	})
}

// persist saves obj when a store is configured. Failures are logged only;
// the in-memory object stays authoritative.
func (s *Server) persist(obj cosem.Object) {
	if s.db == nil {
		return
	}
	var err error
	s.service.Locked(obj, func() { err = s.db.SaveObject(obj) })
	if err != nil {
		s.logger.Error("save object", "ln", obj.Identity().LogicalName, "err", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, dlms.ErrInvalidIndex):
		return http.StatusNotFound
	case errors.Is(err, dlms.ErrReadWriteDenied):
		return http.StatusForbidden
	case errors.Is(err, dlms.ErrTypeMismatch), errors.Is(err, dlms.ErrFormat):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
