package db

import (
	"context"
	"time"

	"github.com/bigf625oot/Tiga-sub000/rag"
	"github.com/bigf625oot/Tiga-sub000/utils/json"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage backs both the document repository and the chat message store.
type Storage struct {
	db      *gorm.DB
	migrate bool
}

var (
	_ rag.DocumentStore = (*Storage)(nil)
	_ rag.MessageStore  = (*Storage)(nil)
)

func NewStorage(opts ...DBStorageOption) (*Storage, error) {
	s := &Storage{}
	for _, opt := range opts {
		opt(s)
	}
	if s.db == nil {
		return nil, errors.New("db is not set")
	}
	if s.migrate {
		if err := s.db.AutoMigrate(&Document{}, &ChatMessage{}); err != nil {
			return nil, rag.NewError(rag.ErrStorageUnavailable, err, "auto migrate")
		}
	}
	return s, nil
}

// Open connects to mysql or postgres.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported db driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "open "+driver)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "db handle")
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "ping "+driver)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

func toModel(d *rag.Document) *Document {
	return &Document{
		ID:           d.Id,
		Filename:     d.Filename,
		BlobKey:      d.BlobKey,
		BlobURL:      d.BlobURL,
		Size:         d.Size,
		ParentID:     d.ParentId,
		IsFolder:     d.IsFolder,
		Status:       string(d.Status),
		ProgressNote: d.ProgressNote,
		IsDeleted:    d.IsDeleted,
		GmtCreate:    d.CreatedAt,
		GmtModified:  d.UpdatedAt,
	}
}

func fromModel(m *Document) *rag.Document {
	return &rag.Document{
		Id:           m.ID,
		Filename:     m.Filename,
		BlobKey:      m.BlobKey,
		BlobURL:      m.BlobURL,
		Size:         m.Size,
		ParentId:     m.ParentID,
		IsFolder:     m.IsFolder,
		Status:       rag.DocStatus(m.Status),
		ProgressNote: m.ProgressNote,
		IsDeleted:    m.IsDeleted,
		CreatedAt:    m.GmtCreate,
		UpdatedAt:    m.GmtModified,
	}
}

func (s *Storage) Create(ctx context.Context, doc *rag.Document) error {
	m := toModel(doc)
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "create document")
	}
	doc.Id, doc.CreatedAt, doc.UpdatedAt = m.ID, m.GmtCreate, m.GmtModified
	return nil
}

func (s *Storage) Get(ctx context.Context, id int64) (*rag.Document, error) {
	var m Document
	err := s.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rag.Errorf(rag.ErrNotFound, err, "document %d", id)
	}
	if err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "get document")
	}
	return fromModel(&m), nil
}

func (s *Storage) Update(ctx context.Context, doc *rag.Document) error {
	m := toModel(doc)
	res := s.db.WithContext(ctx).Model(&Document{}).Where("id = ?", doc.Id).
		Select("*").Omit("id", "gmt_create").Updates(m)
	if res.Error != nil {
		return rag.NewError(rag.ErrStorageUnavailable, res.Error, "update document")
	}
	if res.RowsAffected == 0 {
		return rag.Errorf(rag.ErrNotFound, nil, "document %d", doc.Id)
	}
	doc.UpdatedAt = m.GmtModified
	return nil
}

func (s *Storage) List(ctx context.Context) ([]*rag.Document, error) {
	var ms []Document
	if err := s.db.WithContext(ctx).Where("is_deleted = ?", false).Order("id").Find(&ms).Error; err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "list documents")
	}
	docs := make([]*rag.Document, len(ms))
	for i := range ms {
		docs[i] = fromModel(&ms[i])
	}
	return docs, nil
}

func (s *Storage) HardDelete(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&Document{}, id).Error; err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "delete document")
	}
	return nil
}

func (s *Storage) Append(ctx context.Context, msg *rag.ChatMessage) error {
	m := &ChatMessage{
		SessionID: msg.SessionId,
		Role:      msg.Role,
		Content:   msg.Content,
	}
	if len(msg.Sources) > 0 {
		raw, err := json.Marshal(msg.Sources)
		if err != nil {
			return errors.Wrap(err, "encode sources")
		}
		m.Sources = string(raw)
	}
	if msg.CreatedAt > 0 {
		m.GmtCreate = time.Unix(msg.CreatedAt, 0)
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return rag.NewError(rag.ErrStorageUnavailable, err, "append message")
	}
	return nil
}

// History returns the last limit messages of a session, oldest first.
func (s *Storage) History(ctx context.Context, sessionId string, limit int) ([]*rag.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionId).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ms []ChatMessage
	if err := q.Find(&ms).Error; err != nil {
		return nil, rag.NewError(rag.ErrStorageUnavailable, err, "load history")
	}
	out := make([]*rag.ChatMessage, 0, len(ms))
	for i := len(ms) - 1; i >= 0; i-- {
		m := ms[i]
		msg := &rag.ChatMessage{
			SessionId: m.SessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.GmtCreate.Unix(),
		}
		if m.Sources != "" {
			_ = json.Unmarshal([]byte(m.Sources), &msg.Sources)
		}
		out = append(out, msg)
	}
	return out, nil
}
