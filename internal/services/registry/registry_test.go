package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
	"github.com/LeonardoBeccarini/smartgarden/internal/store/storetest"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(storetest.Open(t), nil)
}

func intPtr(v int) *int { return &v }

func mustArea(t *testing.T, r *Registry, userID, name string, plants ...string) *entities.Area {
	t.Helper()
	in := AreaInput{Name: name}
	for _, p := range plants {
		in.Plants = append(in.Plants, PlantInput{Name: p})
	}
	a, err := r.CreateArea(context.Background(), userID, in)
	require.NoError(t, err)
	return a
}

func TestRegisterDeviceDefaults(t *testing.T) {
	r := newTestRegistry(t)
	dev, err := r.RegisterDevice(context.Background(), "u1", DeviceInput{ID: " esp-01 "})
	require.NoError(t, err)

	assert.Equal(t, "esp-01", dev.ID)
	assert.Equal(t, "esp-01", dev.Name)
	assert.Equal(t, "u1", dev.UserID)
	assert.True(t, dev.IsActive)
	assert.Equal(t, -1, dev.PlantIndex)
	assert.Nil(t, dev.AreaID)
	assert.ElementsMatch(t, model.DefaultChannels, dev.Feeds)
}

func TestRegisterDuplicateLeavesNoLink(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	area := mustArea(t, r, "u1", "Balcony", "Basil")

	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "esp-01"})
	require.NoError(t, err)

	// same id, different user, with an area link: must fail and link nothing
	_, err = r.RegisterDevice(ctx, "u2", DeviceInput{ID: "esp-01", AreaID: &area.ID, PlantIndex: intPtr(0)})
	require.ErrorIs(t, err, ErrDuplicateDevice)
	assert.ErrorIs(t, err, model.ErrConflict)

	got, err := r.GetArea(ctx, "u1", area.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Devices)

	dev, err := r.GetDevice(ctx, "esp-01")
	require.NoError(t, err)
	assert.Equal(t, "u1", dev.UserID)
	assert.Nil(t, dev.AreaID)
}

func TestRegisterWithLinkValidatesPlantIndex(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	area := mustArea(t, r, "u1", "Greenhouse", "Tomato", "Pepper")

	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "d-bad", AreaID: &area.ID, PlantIndex: intPtr(2)})
	require.ErrorIs(t, err, ErrPlantIndex)

	_, err = r.RegisterDevice(ctx, "u2", DeviceInput{ID: "d-foreign", AreaID: &area.ID})
	require.ErrorIs(t, err, ErrAreaNotFound, "areas of other users are invisible")

	dev, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "d-ok", AreaID: &area.ID, PlantIndex: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, dev.PlantIndex)
	require.NotNil(t, dev.PlantID)
	assert.Equal(t, area.Plants[1].ID, *dev.PlantID)

	got, err := r.GetArea(ctx, "u1", area.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"d-ok"}, got.Devices)
}

func TestFindDevicesByChannel(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "a", Channels: []string{"sensor-soil", "pump-motor"}})
	require.NoError(t, err)
	_, err = r.RegisterDevice(ctx, "u2", DeviceInput{ID: "b", Channels: []string{"sensor-soil"}})
	require.NoError(t, err)
	_, err = r.RegisterDevice(ctx, "u2", DeviceInput{ID: "c", Channels: []string{"sensor-temp"}})
	require.NoError(t, err)

	devs, err := r.FindDevicesByChannel(ctx, "sensor-soil")
	require.NoError(t, err)
	ids := []string{}
	for _, d := range devs {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	devs, err = r.FindDevicesByChannel(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestUpdateLinkMovesMembership(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "A", "Rose")
	b := mustArea(t, r, "u1", "B", "Mint", "Sage")
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x", AreaID: &a.ID, PlantIndex: intPtr(0)})
	require.NoError(t, err)

	dev, err := r.UpdateLink(ctx, "u1", "x", &b.ID, intPtr(1))
	require.NoError(t, err)
	assert.Equal(t, b.ID, *dev.AreaID)
	assert.Equal(t, 1, dev.PlantIndex)

	gotA, err := r.GetArea(ctx, "u1", a.ID)
	require.NoError(t, err)
	gotB, err := r.GetArea(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.NotContains(t, gotA.Devices, "x")
	assert.Contains(t, gotB.Devices, "x")

	// same area, no index: plant kept
	dev, err = r.UpdateLink(ctx, "u1", "x", &b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.PlantIndex)

	dev, err = r.UpdateLink(ctx, "u1", "x", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, dev.AreaID)
	assert.Nil(t, dev.PlantID)
	assert.Equal(t, -1, dev.PlantIndex)

	gotB, err = r.GetArea(ctx, "u1", b.ID)
	require.NoError(t, err)
	assert.Empty(t, gotB.Devices)

	unassigned, err := r.ListUnassignedDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unassigned, 1)
	assert.Equal(t, "x", unassigned[0].ID)
}

func TestUpdateLinkRejectsOutOfRange(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "A", "Rose")
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x"})
	require.NoError(t, err)

	_, err = r.UpdateLink(ctx, "u1", "x", &a.ID, intPtr(5))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = r.UpdateLink(ctx, "u2", "x", &a.ID, intPtr(0))
	require.ErrorIs(t, err, ErrDeviceNotFound)

	dev, err := r.GetDevice(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, dev.AreaID)
}

func TestDeletePlantLeavesStaleLink(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "A", "Rose", "Tulip", "Lily")
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "on-rose", AreaID: &a.ID, PlantIndex: intPtr(0)})
	require.NoError(t, err)
	_, err = r.RegisterDevice(ctx, "u1", DeviceInput{ID: "on-lily", AreaID: &a.ID, PlantIndex: intPtr(2)})
	require.NoError(t, err)

	stale, err := r.DeletePlant(ctx, "u1", a.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"on-rose"}, stale)

	got, err := r.GetArea(ctx, "u1", a.ID)
	require.NoError(t, err)
	require.Len(t, got.Plants, 2)
	assert.Equal(t, "Tulip", got.Plants[0].Name)
	assert.Equal(t, 0, got.Plants[0].Position)
	assert.Equal(t, 1, got.Plants[1].Position)

	// the lily device follows its plant, the rose device is dangling
	lily, err := r.GetDevice(ctx, "on-lily")
	require.NoError(t, err)
	assert.Equal(t, 1, lily.PlantIndex)

	rose, err := r.GetDevice(ctx, "on-rose")
	require.NoError(t, err)
	assert.Equal(t, -1, rose.PlantIndex)
	_, _, err = r.LookupPlant(ctx, *rose.AreaID, *rose.PlantID)
	assert.ErrorIs(t, err, ErrPlantNotFound)
}

func TestDeleteAreaOrphansDevices(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "A", "Rose")
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x", AreaID: &a.ID, PlantIndex: intPtr(0)})
	require.NoError(t, err)

	orphaned, err := r.DeleteArea(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, orphaned)

	dev, err := r.GetDevice(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, dev.AreaID)
	assert.Nil(t, dev.PlantID)

	_, err = r.GetArea(ctx, "u1", a.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAreaCRUD(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "Front")

	_, err := r.CreateArea(ctx, "u1", AreaInput{Name: "Front"})
	require.ErrorIs(t, err, ErrDuplicateArea)
	_, err = r.CreateArea(ctx, "u2", AreaInput{Name: "Front"})
	require.NoError(t, err, "area names are unique per user only")

	_, err = r.CreateArea(ctx, "u1", AreaInput{Name: "Bad", Plants: []PlantInput{{Name: "x", Threshold: &entities.Threshold{Min: 80, Max: 20}}}})
	require.ErrorIs(t, err, model.ErrValidation)

	p, err := r.AddPlant(ctx, "u1", a.ID, PlantInput{Name: "Fern", Type: "shade"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Position)
	assert.Equal(t, entities.DefaultThreshold(), p.MoistureThreshold)

	th := entities.Threshold{Min: 40, Max: 60}
	p, err = r.UpdatePlant(ctx, "u1", a.ID, 0, PlantUpdate{Threshold: &th})
	require.NoError(t, err)
	assert.Equal(t, th, p.MoistureThreshold)
	assert.Equal(t, "Fern", p.Name)

	_, err = r.UpdatePlant(ctx, "u1", a.ID, 3, PlantUpdate{Threshold: &th})
	require.ErrorIs(t, err, ErrPlantIndex)

	name := "Back"
	desc := "north side"
	got, err := r.UpdateArea(ctx, "u1", a.ID, AreaUpdate{Name: &name, Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Back", got.Name)
	assert.Equal(t, "north side", got.Description)

	areas, err := r.ListAreas(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, areas, 1)
	assert.Len(t, areas[0].Plants, 1)

	id, err := r.ResolvePlantIndex(ctx, "u1", a.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id)
}

func TestDeleteDeviceClearsActiveAssignment(t *testing.T) {
	ctx := context.Background()
	db := storetest.Open(t)
	r := New(db, nil)
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x"})
	require.NoError(t, err)
	active := "x"
	require.NoError(t, db.Create(&entities.User{ID: "u1", ActiveDeviceID: &active}).Error)
	sch := entities.Schedule{ID: uuid.New(), UserID: "u1", Name: "morning", Type: entities.ScheduleOneTime,
		DurationMinutes: 5, DeviceID: "x", IsActive: true}
	require.NoError(t, db.Create(&sch).Error)

	require.NoError(t, r.DeleteDevice(ctx, "u1", "x"))

	var got entities.Schedule
	require.NoError(t, db.First(&got, "id = ?", sch.ID).Error)
	assert.False(t, got.IsActive, "schedules of a deleted device stop firing")

	var u entities.User
	require.NoError(t, db.First(&u, "id = ?", "u1").Error)
	assert.Nil(t, u.ActiveDeviceID)

	_, err = r.GetDevice(ctx, "x")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	devs, err := r.FindDevicesByChannel(ctx, model.ChannelSoilMoisture)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestSetActivityAndToggle(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x"})
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SetActivity(ctx, "x", at))
	assert.ErrorIs(t, r.SetActivity(ctx, "ghost", at), ErrDeviceNotFound)

	dev, err := r.ToggleActive(ctx, "u1", "x")
	require.NoError(t, err)
	assert.False(t, dev.IsActive)
	require.NotNil(t, dev.LastActivity)
	assert.True(t, at.Equal(*dev.LastActivity))

	name := "Kitchen"
	dev, err = r.UpdateDevice(ctx, "u1", "x", DeviceUpdate{Name: &name, Channels: []string{"sensor-soil", "sensor-soil", " "}})
	require.NoError(t, err)
	assert.Equal(t, "Kitchen", dev.Name)
	assert.Equal(t, []string{"sensor-soil"}, dev.Feeds)
}

func TestDeviceAreaMapping(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t)
	a := mustArea(t, r, "u1", "Herbs", "Basil")
	_, err := r.RegisterDevice(ctx, "u1", DeviceInput{ID: "x", AreaID: &a.ID, PlantIndex: intPtr(0)})
	require.NoError(t, err)
	_, err = r.RegisterDevice(ctx, "u1", DeviceInput{ID: "y"})
	require.NoError(t, err)

	links, err := r.DeviceAreaMapping(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, links, 2)
	byID := map[string]DeviceLink{}
	for _, l := range links {
		byID[l.DeviceID] = l
	}
	assert.Equal(t, "Herbs", byID["x"].AreaName)
	assert.Equal(t, "Basil", byID["x"].PlantName)
	assert.Equal(t, 0, byID["x"].PlantIndex)
	assert.Equal(t, -1, byID["y"].PlantIndex)
	assert.Nil(t, byID["y"].AreaID)

	_, err = r.ListDevicesByArea(ctx, "u1", uuid.New())
	assert.ErrorIs(t, err, ErrAreaNotFound)
}
