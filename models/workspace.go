package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/factory_backend/config"
	"bitbucket.org/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

type Workspace struct {
	ID        string    `gorm:"primary_key;size:36" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Country   string    `gorm:"size:50" json:"country"`
	Timezone  string    `gorm:"size:50" json:"timezone"`
	IsActive  bool      `gorm:"default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID          int       `gorm:"primary_key" json:"id"`
	WorkspaceId string    `gorm:"size:36;not null;index" json:"workspace_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Email       string    `gorm:"size:100" json:"email"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Item struct {
	ID          int       `gorm:"primary_key" json:"id"`
	WorkspaceId string    `gorm:"size:36;not null;index:idx_item_sku,priority:1" json:"workspace_id"`
	Sku         string    `gorm:"size:100;index:idx_item_sku,priority:2" json:"sku"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Unit        string    `gorm:"size:30" json:"unit"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Factory struct {
	ID          int       `gorm:"primary_key" json:"id"`
	WorkspaceId string    `gorm:"size:36;not null;index" json:"workspace_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	Address     string    `gorm:"size:255" json:"address"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Machine struct {
	ID          int       `gorm:"primary_key" json:"id"`
	WorkspaceId string    `gorm:"size:36;not null;index" json:"workspace_id"`
	FactoryId   int       `gorm:"not null;index" json:"factory_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProjectComponent struct {
	ID          int       `gorm:"primary_key" json:"id"`
	WorkspaceId string    `gorm:"size:36;not null;index" json:"workspace_id"`
	ProjectId   int       `gorm:"not null;index" json:"project_id"`
	Name        string    `gorm:"size:100;not null" json:"name"`
	IsActive    bool      `gorm:"default:true" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	db := config.GetDB()
	var workspace Workspace
	err := db.WithContext(ctx).Where("id = ?", id).First(&workspace).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &workspace, nil
}
