// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package state

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/google/uuid"

	"github.com/staranto/credctlgo/internal/sensitive"
	"github.com/staranto/credctlgo/internal/version"
)

// FormatVersion is bumped only when the document layout changes
// incompatibly.
const FormatVersion = 1

// Resource types managed by the converge engine.
const (
	TypeIAMUser          = "iam_user"
	TypeIAMAccessKey     = "iam_access_key"
	TypePolicyAttachment = "iam_policy_attachment"
	TypeRepositorySecret = "repository_secret"
)

// Provider labels recorded per resource.
const (
	ProviderAWS    = "aws"
	ProviderGitHub = "github"
)

// Document is the state record a backend stores. The shape deliberately
// follows Terraform state (version/serial/lineage plus a resources list with
// instance attribute maps) so the query pipeline can flatten it the same way.
type Document struct {
	Version        int               `json:"version"`
	CredctlVersion string            `json:"credctl_version"`
	Serial         uint64            `json:"serial"`
	Lineage        string            `json:"lineage"`
	Outputs        map[string]Output `json:"outputs"`
	Resources      []Resource        `json:"resources"`
}

type Output struct {
	Value     interface{} `json:"value"`
	Type      string      `json:"type"`
	Sensitive bool        `json:"sensitive,omitempty"`
}

type Resource struct {
	Mode      string     `json:"mode"`
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Provider  string     `json:"provider"`
	Instances []Instance `json:"instances"`
}

type Instance struct {
	SchemaVersion int                    `json:"schema_version"`
	Attributes    map[string]interface{} `json:"attributes"`
}

// New returns an empty document with a fresh lineage. Lineage never changes
// for the life of a stack; serial counts saves within that lineage.
func New() *Document {
	return &Document{
		Version:        FormatVersion,
		CredctlVersion: version.Version,
		Serial:         0,
		Lineage:        uuid.NewString(),
		Outputs:        map[string]Output{},
	}
}

// Parse unmarshals a raw state body.
func Parse(raw []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if d.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported state version %d", d.Version)
	}
	if d.Outputs == nil {
		d.Outputs = map[string]Output{}
	}
	return &d, nil
}

// Marshal renders the document the way it is stored, indented with a
// trailing newline.
func (d *Document) Marshal() ([]byte, error) {
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return append(raw, '\n'), nil
}

// secretAttributeKeys are instance attributes that must never leave the
// process unredacted.
var secretAttributeKeys = map[string]bool{
	"secret_access_key": true,
}

// Redact returns a deep copy of the document with every sensitive value
// replaced by the redaction marker. That covers outputs flagged sensitive
// and secret key material stored in resource attributes.
func (d *Document) Redact() *Document {
	raw, err := json.Marshal(d)
	if err != nil {
		return d
	}

	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return d
	}

	for name, o := range out.Outputs {
		if o.Sensitive {
			o.Value = sensitive.Redacted
			out.Outputs[name] = o
		}
	}

	for i := range out.Resources {
		for j := range out.Resources[i].Instances {
			attrs := out.Resources[i].Instances[j].Attributes
			for key := range attrs {
				if secretAttributeKeys[key] {
					attrs[key] = sensitive.Redacted
				}
			}
		}
	}

	return &out
}

// Resource returns the managed resource with the given type and name, or nil.
func (d *Document) Resource(typ, name string) *Resource {
	for i := range d.Resources {
		if d.Resources[i].Type == typ && d.Resources[i].Name == name {
			return &d.Resources[i]
		}
	}
	return nil
}

// ResourcesOfType returns all managed resources of one type.
func (d *Document) ResourcesOfType(typ string) []*Resource {
	var out []*Resource
	for i := range d.Resources {
		if d.Resources[i].Type == typ {
			out = append(out, &d.Resources[i])
		}
	}
	return out
}

// SetResource upserts a resource keyed by type+name.
func (d *Document) SetResource(r Resource) {
	if r.Mode == "" {
		r.Mode = "managed"
	}
	for i := range d.Resources {
		if d.Resources[i].Type == r.Type && d.Resources[i].Name == r.Name {
			d.Resources[i] = r
			return
		}
	}
	d.Resources = append(d.Resources, r)
}

// RemoveResource drops a resource. Reports whether anything was removed.
func (d *Document) RemoveResource(typ, name string) bool {
	for i := range d.Resources {
		if d.Resources[i].Type == typ && d.Resources[i].Name == name {
			d.Resources = append(d.Resources[:i], d.Resources[i+1:]...)
			return true
		}
	}
	return false
}

// Empty reports whether the document tracks no resources.
func (d *Document) Empty() bool {
	return len(d.Resources) == 0
}

// SetOutput records a top level output value.
func (d *Document) SetOutput(name string, value interface{}, typ string, sensitive bool) {
	if d.Outputs == nil {
		d.Outputs = map[string]Output{}
	}
	d.Outputs[name] = Output{Value: value, Type: typ, Sensitive: sensitive}
}

// Attr digs one attribute out of the first instance of a resource. Missing
// anything along the way yields "".
func (r *Resource) Attr(key string) string {
	if r == nil || len(r.Instances) == 0 {
		return ""
	}
	v, ok := r.Instances[0].Attributes[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

// SingleInstance wraps an attribute map in the one-instance form every
// credctl resource uses.
func SingleInstance(attrs map[string]interface{}) []Instance {
	return []Instance{{Attributes: attrs}}
}

// LockInfo travels with a held state lock so a blocked run can say who is in
// the way.
type LockInfo struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"`
	Who       string    `json:"who"`
	Version   string    `json:"version"`
	Created   time.Time `json:"created"`
}

// NewLockInfo stamps a lock record for this process.
func NewLockInfo(operation string) LockInfo {
	who := "unknown"
	if u, err := user.Current(); err == nil {
		who = u.Username
	}
	if host, err := os.Hostname(); err == nil {
		who = who + "@" + host
	}

	return LockInfo{
		ID:        uuid.NewString(),
		Operation: operation,
		Who:       who,
		Version:   version.Version,
		Created:   time.Now().UTC(),
	}
}

func (l LockInfo) String() string {
	if l.Created.IsZero() {
		return fmt.Sprintf("%s (%s by %s)", l.ID, l.Operation, l.Who)
	}
	return fmt.Sprintf("%s (%s by %s at %s)", l.ID, l.Operation, l.Who, l.Created.Format(time.RFC3339))
}

// Marshal renders the lock record for storage beside the state.
func (l LockInfo) Marshal() []byte {
	raw, _ := json.MarshalIndent(l, "", "  ")
	return append(raw, '\n')
}

// ParseLockInfo reads a stored lock record. A body that does not parse still
// returns a usable record with the raw text as the ID.
func ParseLockInfo(raw []byte) LockInfo {
	var l LockInfo
	if err := json.Unmarshal(raw, &l); err != nil {
		return LockInfo{ID: string(raw)}
	}
	return l
}

// LockError reports a lock already held elsewhere. Info carries the holder's
// record when the backend could recover it.
type LockError struct {
	Info *LockInfo
	Err  error
}

func (e *LockError) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("state is locked by %s\nfix: wait for that run to finish, or remove the stale lock", e.Info)
	}
	return fmt.Sprintf("state is locked: %v", e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}
