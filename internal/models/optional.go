package models

// Opt marks a field of a partial update as present or absent.
type Opt[T any] struct {
	value T
	set   bool
}

func Set[T any](v T) Opt[T] {
	return Opt[T]{value: v, set: true}
}

// FromPtr maps a nil pointer to an absent value.
func FromPtr[T any](p *T) Opt[T] {
	if p == nil {
		return Opt[T]{}
	}
	return Set(*p)
}

func (o Opt[T]) Get() (T, bool) { return o.value, o.set }

func (o Opt[T]) IsSet() bool { return o.set }

// UserUpdate lists the user columns that may change after creation.
type UserUpdate struct {
	FullName      Opt[string]
	Picture       Opt[string]
	EmailVerified Opt[bool]
	IsActive      Opt[bool]
	IsDisabled    Opt[bool]
}

func (u UserUpdate) Empty() bool {
	return len(u.Columns()) == 0
}

// Columns maps present fields to their column names.
func (u UserUpdate) Columns() map[string]any {
	cols := make(map[string]any)
	if v, ok := u.FullName.Get(); ok {
		cols["full_name"] = v
	}
	if v, ok := u.Picture.Get(); ok {
		cols["picture"] = v
	}
	if v, ok := u.EmailVerified.Get(); ok {
		cols["email_verified"] = v
	}
	if v, ok := u.IsActive.Get(); ok {
		cols["is_active"] = v
	}
	if v, ok := u.IsDisabled.Get(); ok {
		cols["is_disabled"] = v
	}
	return cols
}

// Profile keeps only the fields a user may edit about themselves.
func (u UserUpdate) Profile() UserUpdate {
	return UserUpdate{FullName: u.FullName, Picture: u.Picture}
}
