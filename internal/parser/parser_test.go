package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `package testpkg

import (
	"fmt"
	"strings"
)

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: strings.TrimSpace(fmt.Sprint(name))}
}

const MaxUsers = 10

type Store interface {
	Get(id int) (*User, error)
}

func (l *List[T]) Len() int { return 0 }
`

func TestNew(t *testing.T) {
	p := New()
	assert.NotNil(t, p)
	assert.NotNil(t, p.fset)
}

func TestParseSource(t *testing.T) {
	res, err := New().ParseSource("sample.go", sample)
	require.NoError(t, err)
	assert.Equal(t, "testpkg", res.PackageName)

	want := []struct {
		kind     Kind
		name     string
		receiver string
	}{
		{KindImport, "", ""},
		{KindStruct, "User", ""},
		{KindMethod, "GetName", "User"},
		{KindFunction, "NewUser", ""},
		{KindConst, "MaxUsers", ""},
		{KindInterface, "Store", ""},
		{KindMethod, "Len", "List"},
	}
	require.Len(t, res.Declarations, len(want))
	for i, w := range want {
		d := res.Declarations[i]
		assert.Equal(t, w.kind, d.Kind, "declaration %d", i)
		assert.Equal(t, w.name, d.Name, "declaration %d", i)
		assert.Equal(t, w.receiver, d.Receiver, "declaration %d", i)
		assert.Less(t, d.Offset, d.End)
	}
}

func TestOffsetsIncludeDocComments(t *testing.T) {
	res, err := New().ParseSource("sample.go", sample)
	require.NoError(t, err)

	user := res.Declarations[1]
	assert.True(t, len(sample) > user.Offset)
	assert.Equal(t, "// User represents", sample[user.Offset:user.Offset+len("// User represents")])
}

func TestBoundaries(t *testing.T) {
	res, err := New().ParseSource("sample.go", sample)
	require.NoError(t, err)

	cuts := Boundaries(res)
	assert.Len(t, cuts, len(res.Declarations)-1)
	for i := 1; i < len(cuts); i++ {
		assert.Greater(t, cuts[i], cuts[i-1])
	}
}

func TestSymbols(t *testing.T) {
	res, err := New().ParseSource("sample.go", sample)
	require.NoError(t, err)

	all := Symbols(res, 0, len(sample))
	assert.Equal(t, []string{"User", "User.GetName", "NewUser", "MaxUsers", "Store", "List.Len"}, all)

	first := Symbols(res, 0, res.Declarations[2].Offset)
	assert.Equal(t, []string{"User"}, first)
}

func TestParseSource_Errors(t *testing.T) {
	_, err := New().ParseSource("bad.go", "this is not go")
	assert.Error(t, err)

	res, err := New().ParseSource("empty.go", "package empty\n")
	assert.ErrorIs(t, err, ErrNoDeclarations)
	assert.Equal(t, "empty", res.PackageName)
}
