package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/LeonardoBeccarini/smartgarden/internal/model/entities"
)

type PlantInput struct {
	Name      string
	Type      string
	Threshold *entities.Threshold
}

type PlantUpdate struct {
	Name      *string
	Type      *string
	Threshold *entities.Threshold
}

type AreaInput struct {
	Name        string
	Description string
	Plants      []PlantInput
}

type AreaUpdate struct {
	Name        *string
	Description *string
}

func (r *Registry) CreateArea(ctx context.Context, userID string, in AreaInput) (*entities.Area, error) {
	name := strings.TrimSpace(in.Name)
	if userID == "" {
		return nil, validation("user id is required")
	}
	if name == "" {
		return nil, validation("area name is required")
	}
	plants := make([]entities.Plant, 0, len(in.Plants))
	for i, p := range in.Plants {
		plant, err := newPlant(p, i)
		if err != nil {
			return nil, err
		}
		plants = append(plants, plant)
	}

	area := entities.Area{ID: uuid.New(), UserID: userID, Name: name, Description: strings.TrimSpace(in.Description)}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureAreaNameFree(tx, userID, name, uuid.Nil); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&area).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateArea, name)
			}
			return err
		}
		for i := range plants {
			plants[i].AreaID = area.ID
		}
		if len(plants) == 0 {
			return nil
		}
		return tx.Create(&plants).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetArea(ctx, userID, area.ID)
}

func newPlant(in PlantInput, position int) (entities.Plant, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return entities.Plant{}, validation("plant name is required")
	}
	th := entities.DefaultThreshold()
	if in.Threshold != nil {
		th = *in.Threshold
	}
	if err := validateThreshold(th); err != nil {
		return entities.Plant{}, err
	}
	return entities.Plant{
		ID:                uuid.New(),
		Position:          position,
		Name:              name,
		Type:              strings.TrimSpace(in.Type),
		MoistureThreshold: th,
	}, nil
}

func ensureAreaNameFree(tx *gorm.DB, userID, name string, self uuid.UUID) error {
	var count int64
	q := tx.Model(&entities.Area{}).Where("user_id = ? AND name = ?", userID, name)
	if self != uuid.Nil {
		q = q.Where("id <> ?", self)
	}
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateArea, name)
	}
	return nil
}

func (r *Registry) GetArea(ctx context.Context, userID string, id uuid.UUID) (*entities.Area, error) {
	db := r.db.WithContext(ctx)
	area, err := loadArea(db.Preload("Plants", orderPlants), userID, id)
	if err != nil {
		return nil, err
	}
	areas := []entities.Area{*area}
	if err := fillMembers(db, userID, areas); err != nil {
		return nil, err
	}
	return &areas[0], nil
}

func (r *Registry) ListAreas(ctx context.Context, userID string) ([]entities.Area, error) {
	db := r.db.WithContext(ctx)
	var areas []entities.Area
	if err := db.Preload("Plants", orderPlants).Where("user_id = ?", userID).Order("created_at, id").Find(&areas).Error; err != nil {
		return nil, err
	}
	if err := fillMembers(db, userID, areas); err != nil {
		return nil, err
	}
	return areas, nil
}

func (r *Registry) UpdateArea(ctx context.Context, userID string, id uuid.UUID, upd AreaUpdate) (*entities.Area, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadArea(tx, userID, id); err != nil {
			return err
		}
		updates := map[string]any{}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return validation("area name is required")
			}
			if err := ensureAreaNameFree(tx, userID, name, id); err != nil {
				return err
			}
			updates["name"] = name
		}
		if upd.Description != nil {
			updates["description"] = strings.TrimSpace(*upd.Description)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&entities.Area{}).Where("id = ?", id).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return r.GetArea(ctx, userID, id)
}

// DeleteArea removes the area and its plants. Linked devices are kept and unlinked.
// It returns the ids of the devices that lost their link.
func (r *Registry) DeleteArea(ctx context.Context, userID string, id uuid.UUID) ([]string, error) {
	var orphaned []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadArea(tx, userID, id); err != nil {
			return err
		}
		if err := tx.Model(&entities.Device{}).Where("area_id = ?", id).Pluck("id", &orphaned).Error; err != nil {
			return err
		}
		if err := tx.Model(&entities.Device{}).Where("area_id = ?", id).
			Updates(map[string]any{"area_id": nil, "plant_id": nil, "linked_at": nil}).Error; err != nil {
			return err
		}
		if err := tx.Model(&entities.Schedule{}).Where("area_id = ?", id).
			Updates(map[string]any{"area_id": nil, "plant_id": nil}).Error; err != nil {
			return err
		}
		if err := tx.Where("area_id = ?", id).Delete(&entities.Plant{}).Error; err != nil {
			return err
		}
		return tx.Delete(&entities.Area{}, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	r.log.Info("area deleted", zap.String("area_id", id.String()), zap.Strings("orphaned_devices", orphaned))
	return orphaned, nil
}

// AddPlant appends a plant at the end of the area's list.
func (r *Registry) AddPlant(ctx context.Context, userID string, areaID uuid.UUID, in PlantInput) (*entities.Plant, error) {
	var plant entities.Plant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadArea(tx, userID, areaID); err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&entities.Plant{}).Where("area_id = ?", areaID).Count(&count).Error; err != nil {
			return err
		}
		p, err := newPlant(in, int(count))
		if err != nil {
			return err
		}
		p.AreaID = areaID
		plant = p
		return tx.Create(&plant).Error
	})
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

func (r *Registry) UpdatePlant(ctx context.Context, userID string, areaID uuid.UUID, index int, upd PlantUpdate) (*entities.Plant, error) {
	var plant entities.Plant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := plantAt(tx, userID, areaID, index)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			name := strings.TrimSpace(*upd.Name)
			if name == "" {
				return validation("plant name is required")
			}
			p.Name = name
		}
		if upd.Type != nil {
			p.Type = strings.TrimSpace(*upd.Type)
		}
		if upd.Threshold != nil {
			if err := validateThreshold(*upd.Threshold); err != nil {
				return err
			}
			p.MoistureThreshold = *upd.Threshold
		}
		plant = *p
		return tx.Save(&plant).Error
	})
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

// DeletePlant removes the plant at index and shifts the following ones down.
// Devices linked to it keep a dangling link and evaluate as plant-not-found;
// their ids are returned so the caller can surface them.
func (r *Registry) DeletePlant(ctx context.Context, userID string, areaID uuid.UUID, index int) ([]string, error) {
	var stale []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := plantAt(tx, userID, areaID, index)
		if err != nil {
			return err
		}
		if err := tx.Delete(&entities.Plant{}, "id = ?", p.ID).Error; err != nil {
			return err
		}
		if err := tx.Model(&entities.Plant{}).
			Where("area_id = ? AND position > ?", areaID, index).
			UpdateColumn("position", gorm.Expr("position - 1")).Error; err != nil {
			return err
		}
		return tx.Model(&entities.Device{}).Where("plant_id = ?", p.ID).Pluck("id", &stale).Error
	})
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		r.log.Warn("plant deleted while devices still linked to it",
			zap.String("area_id", areaID.String()), zap.Int("index", index), zap.Strings("device_ids", stale))
	}
	return stale, nil
}

// LookupPlant resolves a device's stored link. It is not scoped to a user.
func (r *Registry) LookupPlant(ctx context.Context, areaID, plantID uuid.UUID) (*entities.Area, *entities.Plant, error) {
	var area entities.Area
	if err := r.db.WithContext(ctx).First(&area, "id = ?", areaID).Error; err != nil {
		return nil, nil, notFound(err, ErrAreaNotFound, areaID)
	}
	var plant entities.Plant
	if err := r.db.WithContext(ctx).First(&plant, "id = ? AND area_id = ?", plantID, areaID).Error; err != nil {
		return &area, nil, notFound(err, ErrPlantNotFound, plantID)
	}
	return &area, &plant, nil
}

// ResolvePlantIndex returns the stable id of the plant shown at index in the area.
func (r *Registry) ResolvePlantIndex(ctx context.Context, userID string, areaID uuid.UUID, index int) (uuid.UUID, error) {
	p, err := plantAt(r.db.WithContext(ctx), userID, areaID, index)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

func orderPlants(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func loadArea(tx *gorm.DB, userID string, id uuid.UUID) (*entities.Area, error) {
	var area entities.Area
	if err := tx.First(&area, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, notFound(err, ErrAreaNotFound, id)
	}
	return &area, nil
}

func plantAt(tx *gorm.DB, userID string, areaID uuid.UUID, index int) (*entities.Plant, error) {
	if _, err := loadArea(tx, userID, areaID); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrPlantIndex, index)
	}
	var plant entities.Plant
	err := tx.Where("area_id = ? AND position = ?", areaID, index).First(&plant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrPlantIndex, index)
	}
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

// fillMembers sets Area.Devices from the device link columns, ordered by link time.
func fillMembers(db *gorm.DB, userID string, areas []entities.Area) error {
	if len(areas) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(areas))
	for _, a := range areas {
		ids = append(ids, a.ID)
	}
	var devs []entities.Device
	err := db.Select("id", "area_id", "linked_at").
		Where("user_id = ? AND area_id IN ?", userID, ids).
		Order("linked_at, id").
		Find(&devs).Error
	if err != nil {
		return err
	}
	members := make(map[uuid.UUID][]string, len(areas))
	for _, d := range devs {
		members[*d.AreaID] = append(members[*d.AreaID], d.ID)
	}
	for i := range areas {
		areas[i].Devices = members[areas[i].ID]
		if areas[i].Devices == nil {
			areas[i].Devices = []string{}
		}
	}
	return nil
}
