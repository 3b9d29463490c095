// Package fixture provides the shared test schema.
package fixture

import (
	"testing"

	"github.com/danmuck/typedbuf/internal/registry"
)

// Field numbers of the test schema.
const (
	ShortNumber  = 1
	LongNumber   = 2
	CharNumber   = 3
	FloatNumber  = 4
	DoubleNumber = 5
	StringNumber = 6
	CarrayNumber = 7
	UBFNumber    = 8
	ViewNumber   = 9
	PtrNumber    = 10
)

// Fields is the test field table. T_LONG_2_FLD allows three occurrences and
// T_STRING_2_FLD holds at most 16 bytes; everything else is unbounded.
func Fields() []registry.FieldDescriptor {
	field := func(name string, t registry.BaseType, number uint32) registry.FieldDescriptor {
		return registry.FieldDescriptor{ID: registry.ComposeID(t, number), Name: name, BaseType: t}
	}
	long2 := field("T_LONG_2_FLD", registry.Long, 1002)
	long2.MaxOccurrences = 3
	string2 := field("T_STRING_2_FLD", registry.String, 1006)
	string2.MaxLength = 16
	return []registry.FieldDescriptor{
		field("T_SHORT_FLD", registry.Short, ShortNumber),
		field("T_LONG_FLD", registry.Long, LongNumber),
		field("T_CHAR_FLD", registry.Char, CharNumber),
		field("T_FLOAT_FLD", registry.Float, FloatNumber),
		field("T_DOUBLE_FLD", registry.Double, DoubleNumber),
		field("T_STRING_FLD", registry.String, StringNumber),
		field("T_CARRAY_FLD", registry.ByteArray, CarrayNumber),
		field("T_UBF_FLD", registry.Record, UBFNumber),
		field("T_VIEW_FLD", registry.View, ViewNumber),
		field("T_PTR_FLD", registry.Ptr, PtrNumber),
		field("T_CHAR_2_FLD", registry.Char, 1003),
		long2,
		string2,
	}
}

// Views is the test view table. UBTESTVIEW2 has one slot per field;
// UBTESTVIEW3 exercises arrays, count companions and null markers.
func Views() []registry.ViewDescriptor {
	return []registry.ViewDescriptor{
		{
			Name: "UBTESTVIEW2",
			Fields: []registry.ViewField{
				{Name: "tshort1", ElementType: registry.Short},
				{Name: "tlong1", ElementType: registry.Long},
				{Name: "tchar1", ElementType: registry.Char},
				{Name: "tfloat1", ElementType: registry.Float},
				{Name: "tdouble1", ElementType: registry.Double},
				{Name: "tstring1", ElementType: registry.String, ElementSize: 15},
				{Name: "tcarray1", ElementType: registry.ByteArray, ElementSize: 10},
			},
		},
		{
			Name: "UBTESTVIEW3",
			Fields: []registry.ViewField{
				{Name: "tshort2", ElementType: registry.Short, FixedCount: 2, HasCountCompanion: true, NullValue: "2000"},
				{Name: "tlong3", ElementType: registry.Long, NullValue: "-1"},
				{Name: "tstring2", ElementType: registry.String, FixedCount: 3, ElementSize: 20, HasCountCompanion: true},
				{Name: "tcarray2", ElementType: registry.ByteArray, FixedCount: 2, ElementSize: 30, HasCountCompanion: true},
			},
		},
	}
}

// Registry builds the test registry or fails the test.
func Registry(t testing.TB) *registry.Registry {
	t.Helper()
	reg, err := registry.New(Fields(), Views())
	if err != nil {
		t.Fatalf("build test registry: %v", err)
	}
	return reg
}
