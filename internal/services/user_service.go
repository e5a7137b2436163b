package services

import (
	"errors"
	"time"

	"github.com/themaluxis/MUM-sub001/internal/models"
	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// Login 用户登录
func (s *UserService) Login(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, errors.New("用户名或密码错误")
	}

	if !user.CheckPassword(password) {
		return nil, errors.New("用户名或密码错误")
	}

	if user.Status != "active" {
		return nil, errors.New("用户已被禁用")
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Model(&user).Update("last_login", now)

	return &user, nil
}

// GetByID 根据 ID 获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByUsername 根据用户名获取用户
func (s *UserService) GetByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// List 用户列表
func (s *UserService) List() ([]models.User, error) {
	var users []models.User
	if err := s.db.Order("created_at desc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// Update 更新用户
func (s *UserService) Update(id uint, req *models.UpdateUserRequest) error {
	updates := make(map[string]interface{})
	if req.Email != "" {
		updates["email"] = req.Email
	}
	if req.Role != "" {
		updates["role"] = req.Role
	}
	if req.Status != "" {
		updates["status"] = req.Status
	}
	if req.Password != "" {
		user := &models.User{}
		if err := user.SetPassword(req.Password); err != nil {
			return err
		}
		updates["password"] = user.Password
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error
}

// UpdatePassword 更新密码
func (s *UserService) UpdatePassword(id uint, password string) error {
	user := &models.User{}
	if err := user.SetPassword(password); err != nil {
		return err
	}
	return s.db.Model(&models.User{}).Where("id = ?", id).Update("password", user.Password).Error
}
