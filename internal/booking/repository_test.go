package booking

import (
	"reflect"
	"testing"

	"github.com/google/uuid"
)

func TestSlotKey_LockKeysCoverTheDate(t *testing.T) {
	sid := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	pid := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	uid := uuid.MustParse("00000000-0000-0000-0000-000000000003")

	a := SlotKey{ServiceID: sid, ProviderID: &pid, Date: monday, Time: NewClock(8, 30)}
	b := SlotKey{ServiceID: sid, ProviderID: &pid, Date: monday, Time: NewClock(9, 0)}
	if !reflect.DeepEqual(a.LockKeys(), b.LockKeys()) {
		t.Errorf("same-day keys differ: %v vs %v", a.LockKeys(), b.LockKeys())
	}
	if a.PrimaryKey() == b.PrimaryKey() {
		t.Errorf("primary key should stay slot-level, got %s twice", a.PrimaryKey())
	}

	unbound := SlotKey{ServiceID: sid, UserID: &uid, Date: monday, Time: NewClock(9, 0)}
	want := []string{
		"service:" + sid.String() + ":2026-10-19",
		"user:" + uid.String() + ":2026-10-19",
	}
	if got := unbound.LockKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("LockKeys = %v, want %v", got, want)
	}

	scope := unbound.Scope()
	if scope.ServiceID == nil || *scope.ServiceID != sid || scope.UserID == nil || scope.ProviderID != nil {
		t.Errorf("Scope = %+v", scope)
	}
}
