package store_test

import (
	"testing"

	"github.com/aerobless/thereabout/internal/store"
	"github.com/aerobless/thereabout/internal/testutil"
)

func TestCreateAndFindAppIdentity(t *testing.T) {
	st := testutil.NewTestStore(t)

	created, err := st.CreateAppIdentity(store.AppWhatsApp, "Alice Miller", 0)
	testutil.MustNoErr(t, err, "CreateAppIdentity")
	if created.ID == 0 {
		t.Fatal("created app identity has zero id")
	}
	if created.IdentityID != 0 {
		t.Errorf("IdentityID = %d, want 0 (orphan)", created.IdentityID)
	}

	found, err := st.FindAppIdentity(store.AppWhatsApp, "Alice Miller")
	testutil.MustNoErr(t, err, "FindAppIdentity")
	if found == nil {
		t.Fatal("FindAppIdentity returned nil for existing row")
	}
	if found.ID != created.ID {
		t.Errorf("found id %d, want %d", found.ID, created.ID)
	}

	// Same identifier under a different application is a distinct row.
	other, err := st.FindAppIdentity(store.AppTelegram, "Alice Miller")
	testutil.MustNoErr(t, err, "FindAppIdentity other app")
	if other != nil {
		t.Error("found WhatsApp identity under Telegram")
	}
}

func TestCreateAppIdentityDuplicateRetriesAsLookup(t *testing.T) {
	st := testutil.NewTestStore(t)

	first, err := st.CreateAppIdentity(store.AppTelegram, "Bob|user222", 0)
	testutil.MustNoErr(t, err, "first create")

	// A second create of the same pair must not fail; it resolves to the
	// existing row via the UNIQUE constraint safety net.
	second, err := st.CreateAppIdentity(store.AppTelegram, "Bob|user222", 0)
	testutil.MustNoErr(t, err, "second create")
	if second.ID != first.ID {
		t.Errorf("second create returned id %d, want %d", second.ID, first.ID)
	}
}

func TestFindIdentityByShortName(t *testing.T) {
	st := testutil.NewTestStore(t)

	missing, err := st.FindIdentityByShortName("Mom")
	testutil.MustNoErr(t, err, "FindIdentityByShortName")
	if missing != nil {
		t.Fatal("found identity that was never created")
	}

	created, err := st.CreateIdentity("Mom", false, "family")
	testutil.MustNoErr(t, err, "CreateIdentity")

	found, err := st.FindIdentityByShortName("Mom")
	testutil.MustNoErr(t, err, "FindIdentityByShortName")
	if found == nil || found.ID != created.ID {
		t.Fatalf("FindIdentityByShortName = %+v, want id %d", found, created.ID)
	}
	if found.Relationship != "family" {
		t.Errorf("Relationship = %q, want %q", found.Relationship, "family")
	}
}

func TestLinkAppIdentity(t *testing.T) {
	st := testutil.NewTestStore(t)

	ident, err := st.CreateIdentity("Team", true, "")
	testutil.MustNoErr(t, err, "CreateIdentity")
	ai, err := st.CreateAppIdentity(store.AppTelegram, "Team", 0)
	testutil.MustNoErr(t, err, "CreateAppIdentity")

	testutil.MustNoErr(t, st.LinkAppIdentity(ai.ID, ident.ID), "LinkAppIdentity")

	found, err := st.FindAppIdentity(store.AppTelegram, "Team")
	testutil.MustNoErr(t, err, "FindAppIdentity")
	if found.IdentityID != ident.ID {
		t.Errorf("IdentityID = %d, want %d", found.IdentityID, ident.ID)
	}
}

func TestListIdentitiesIncludesLinkedAppIdentities(t *testing.T) {
	st := testutil.NewTestStore(t)

	mom, err := st.CreateIdentity("Mom", false, "family")
	testutil.MustNoErr(t, err, "CreateIdentity Mom")
	_, err = st.CreateIdentity("Team", true, "")
	testutil.MustNoErr(t, err, "CreateIdentity Team")

	_, err = st.CreateAppIdentity(store.AppWhatsApp, "Mom", mom.ID)
	testutil.MustNoErr(t, err, "CreateAppIdentity linked")
	_, err = st.CreateAppIdentity(store.AppWhatsApp, "stranger", 0)
	testutil.MustNoErr(t, err, "CreateAppIdentity orphan")

	identities, err := st.ListIdentities()
	testutil.MustNoErr(t, err, "ListIdentities")
	if len(identities) != 2 {
		t.Fatalf("got %d identities, want 2", len(identities))
	}
	// Sorted by short name: Mom, Team.
	if identities[0].ShortName != "Mom" {
		t.Errorf("first identity = %q, want Mom", identities[0].ShortName)
	}
	if len(identities[0].AppIdentities) != 1 {
		t.Fatalf("Mom has %d app identities, want 1", len(identities[0].AppIdentities))
	}
	if identities[0].AppIdentities[0].Application != store.AppWhatsApp {
		t.Errorf("linked application = %s", identities[0].AppIdentities[0].Application)
	}
	if len(identities[1].AppIdentities) != 0 {
		t.Errorf("Team has %d app identities, want 0", len(identities[1].AppIdentities))
	}
}

func TestUpdateIdentity(t *testing.T) {
	st := testutil.NewTestStore(t)

	ident, err := st.CreateIdentity("Mum", false, "")
	testutil.MustNoErr(t, err, "CreateIdentity")

	testutil.MustNoErr(t, st.UpdateIdentity(ident.ID, "Mom", false, "family"), "UpdateIdentity")

	found, err := st.FindIdentityByShortName("Mom")
	testutil.MustNoErr(t, err, "FindIdentityByShortName")
	if found == nil || found.Relationship != "family" {
		t.Fatalf("updated identity = %+v", found)
	}

	if err := st.UpdateIdentity(99999, "x", false, ""); err == nil {
		t.Error("UpdateIdentity of missing row returned nil error")
	}
}
