package trust

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Oracle answers whether a uid is trusted.
type Oracle interface {
	IsGranted(uid int) bool
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(uid int) bool

// IsGranted calls f(uid).
func (f OracleFunc) IsGranted(uid int) bool { return f(uid) }

// Sources locates the files a decision is made from.
type Sources struct {
	// Registry is the system package registry
	Registry string
	// Granter is the package whose allow-list is consulted
	Granter string
	// DataRoot holds the per package data directories
	DataRoot string
	// AllowList is relative to the data directory of the granter
	AllowList string
}

// AllowListPath returns the absolute allow-list location.
func (s Sources) AllowListPath() string {
	return filepath.Join(s.DataRoot, s.Granter, s.AllowList)
}

// Decision explains the outcome of a trust check.
type Decision struct {
	Granted bool
	Package string
	Reason  string
}

// Decide checks uid against a parsed registry and allow-list.
func Decide(reg *Registry, allow AllowList, granter string, uid int) Decision {
	if _, ok := reg.FindByName(granter); !ok {
		return Decision{Reason: fmt.Sprintf("granter %s is not installed", granter)}
	}
	target, ok := reg.FindByUID(uid)
	if !ok {
		return Decision{Reason: "uid not in package registry"}
	}
	if !allow.Contains(target.Name) {
		return Decision{Package: target.Name, Reason: "package not granted"}
	}
	return Decision{Granted: true, Package: target.Name, Reason: "granted"}
}

// FileOracle reads the registry and allow-list on every query.
type FileOracle struct {
	src Sources
	log logrus.FieldLogger
}

// NewFileOracle returns an oracle reading src.
func NewFileOracle(src Sources, log logrus.FieldLogger) *FileOracle {
	return &FileOracle{src: src, log: log}
}

// IsGranted reports false on any read or parse failure.
func (o *FileOracle) IsGranted(uid int) bool {
	d, err := o.decide(uid)
	if err != nil {
		o.log.WithError(err).WithField("uid", uid).Error("trust check failed")
		return false
	}
	o.log.WithFields(logrus.Fields{
		"uid":     uid,
		"package": d.Package,
		"granted": d.Granted,
	}).Debug(d.Reason)
	return d.Granted
}

func (o *FileOracle) decide(uid int) (Decision, error) {
	reg, err := LoadRegistry(o.src.Registry)
	if err != nil {
		return Decision{}, fmt.Errorf("load registry: %w", err)
	}
	allow, err := LoadAllowList(o.src.AllowListPath())
	if err != nil {
		return Decision{}, fmt.Errorf("load allow-list: %w", err)
	}
	return Decide(reg, allow, o.src.Granter, uid), nil
}
