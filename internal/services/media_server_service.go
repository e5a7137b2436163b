package services

import (
	"context"
	"fmt"
	"log"

	"github.com/themaluxis/MUM-sub001/internal/adapters"
	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

type MediaServerService struct {
	db *gorm.DB
}

func NewMediaServerService(db *gorm.DB) *MediaServerService {
	return &MediaServerService{db: db}
}

// Create 创建服务器并尝试连通性验证（拉一次库列表）
func (s *MediaServerService) Create(ctx context.Context, req *models.CreateServerRequest) (*models.MediaServer, error) {
	if !models.IsValidServerType(req.Type) {
		return nil, fmt.Errorf("不支持的服务器类型: %s", req.Type)
	}

	server := &models.MediaServer{
		Name:   req.Name,
		Type:   req.Type,
		URL:    req.URL,
		APIKey: req.APIKey,
	}

	adapter, err := adapters.Get(server.Type)
	if err != nil {
		return nil, err
	}
	if _, err := adapter.ListLibraries(ctx, server); err != nil {
		log.Printf("server %s verification failed: %v", server.Name, err)
	} else {
		server.Verified = true
	}

	if err := s.db.Create(server).Error; err != nil {
		return nil, err
	}
	return server, nil
}

func (s *MediaServerService) List() ([]models.MediaServer, error) {
	var servers []models.MediaServer
	if err := s.db.Order("id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func (s *MediaServerService) GetByID(id uint) (*models.MediaServer, error) {
	var server models.MediaServer
	if err := s.db.First(&server, id).Error; err != nil {
		return nil, err
	}
	return &server, nil
}

func (s *MediaServerService) Delete(id uint) error {
	return s.db.Delete(&models.MediaServer{}, id).Error
}

// Libraries 透传该服务器的库列表
func (s *MediaServerService) Libraries(ctx context.Context, id uint) ([]adapters.Library, error) {
	server, err := s.GetByID(id)
	if err != nil {
		return nil, err
	}
	adapter, err := adapters.Get(server.Type)
	if err != nil {
		return nil, err
	}
	return adapter.ListLibraries(ctx, server)
}
