package db

import "time"

// Document 文档表
type Document struct {
	ID           int64     `gorm:"primaryKey;column:id;autoIncrement"`
	Filename     string    `gorm:"column:filename;type:varchar(255);not null"`
	BlobKey      string    `gorm:"column:blob_key;type:varchar(255)"`
	BlobURL      string    `gorm:"column:blob_url;type:text"`
	Size         int64     `gorm:"column:size;not null;default:0"`
	ParentID     *int64    `gorm:"column:parent_id;index"`
	IsFolder     bool      `gorm:"column:is_folder;not null;default:false"`
	Status       string    `gorm:"column:status;type:varchar(32);not null;index"`
	ProgressNote string    `gorm:"column:progress_note;type:text"`
	IsDeleted    bool      `gorm:"column:is_deleted;not null;default:false"`
	GmtCreate    time.Time `gorm:"column:gmt_create;autoCreateTime"`
	GmtModified  time.Time `gorm:"column:gmt_modified;autoUpdateTime"`
}

// ChatMessage 会话消息表
type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;column:id;autoIncrement"`
	SessionID string    `gorm:"column:session_id;type:varchar(64);not null;index"`
	Role      string    `gorm:"column:role;type:varchar(16);not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Sources   string    `gorm:"column:sources;type:text"`
	GmtCreate time.Time `gorm:"column:gmt_create;autoCreateTime"`
}

func (Document) TableName() string {
	return "tiga_document"
}

func (ChatMessage) TableName() string {
	return "tiga_chat_message"
}
