// Package errs defines the closed set of error kinds propagated across the
// SWC coordinator (spec §7). Components return *errs.Error so HTTP handlers
// and the websocket pipeline can branch on Kind without parsing strings.
package errs

import "fmt"

type Kind string

const (
	Unauthenticated          Kind = "Unauthenticated"
	AccessDenied             Kind = "AccessDenied"
	NotFound                 Kind = "NotFound"
	NameInUse                Kind = "NameInUse"
	BranchInUse              Kind = "BranchInUse"
	ImageMissing             Kind = "ImageMissing"
	RepoUnavailable          Kind = "RepoUnavailable"
	MountMissing             Kind = "MountMissing"
	MountReadOnly            Kind = "MountReadOnly"
	MountPermissionDenied    Kind = "MountPermissionDenied"
	BranchNotFoundAndNoDefault Kind = "BranchNotFoundAndNoDefault"
	GitFailure               Kind = "GitFailure"
	ContainerCreateFailed    Kind = "ContainerCreateFailed"
	ContainerGone            Kind = "ContainerGone"
	RuntimeFailure           Kind = "RuntimeFailure"
	StoreConflict            Kind = "StoreConflict"
	NetworkTimeout           Kind = "NetworkTimeout"
	Internal                 Kind = "Internal"
)

// Error carries a Kind plus optional structured fields consumed by HTTP
// handlers (existing row for NameInUse/BranchInUse, mount path for
// MountReadOnly, image name for ImageMissing).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Structured extras, populated by the constructors below.
	MountPath string
	Image     string
	Existing  any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func MountReadOnlyErr(path string) *Error {
	return &Error{
		Kind:      MountReadOnly,
		Message:   fmt.Sprintf("bare repository must be mounted read-write: %s", path),
		MountPath: path,
	}
}

func MountPermissionDeniedErr(path string) *Error {
	return &Error{
		Kind:      MountPermissionDenied,
		Message:   fmt.Sprintf("permission denied writing to mount: %s", path),
		MountPath: path,
	}
}

func ImageMissingErr(image string) *Error {
	return &Error{
		Kind:    ImageMissing,
		Message: fmt.Sprintf("sandbox image %q is not available; pull or build it before creating sessions", image),
		Image:   image,
	}
}

func NameInUseErr(existing any) *Error {
	return &Error{Kind: NameInUse, Message: "name already in use", Existing: existing}
}

func BranchInUseErr(existing any) *Error {
	return &Error{Kind: BranchInUse, Message: "branch already in use", Existing: existing}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
