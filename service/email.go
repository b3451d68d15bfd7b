package service

import (
	"fmt"

	"zh.xyz/dv/pgsync/config"
	"zh.xyz/dv/pgsync/database"
	"zh.xyz/dv/pgsync/models"
	"zh.xyz/dv/pgsync/utils"

	"gopkg.in/gomail.v2"
)

// NotifyConflictAdmins 向所有管理员发送冲突通知邮件
// 邮件发送失败只记日志，不影响同步流程
func NotifyConflictAdmins(conflict *models.DataConflict) {
	var admins []models.User
	database.DB.Where("role = ? AND status = ?", "admin", "active").Find(&admins)

	for _, admin := range admins {
		token, err := utils.GenerateConflictViewToken(conflict.ID, admin.ID, admin.Username)
		if err != nil {
			continue
		}

		if err := sendConflictNotification(admin.Email, conflict, token); err != nil {
			database.DB.Create(&models.SyncLog{
				JobID:   conflict.JobID,
				LogType: "warning",
				Message: fmt.Sprintf("发送冲突通知邮件失败: %v", err),
			})
		}
	}
}

// sendConflictNotification 发送单封冲突通知邮件
func sendConflictNotification(email string, conflict *models.DataConflict, token string) error {
	link := fmt.Sprintf("http://your-domain.com/api/v1/conflicts/view?token=%s", token)

	subject := "数据库同步冲突通知"
	body := fmt.Sprintf(`
		<html>
		<body>
			<h2>数据库同步冲突通知</h2>
			<p>检测到数据库同步过程中出现数据冲突：</p>
			<ul>
				<li>冲突ID: %d</li>
				<li>表名: %s</li>
				<li>主键: %s</li>
			</ul>
			<p>该行已被搁置，同步继续执行其余数据。请点击以下链接查看和处理冲突：</p>
			<p><a href="%s">查看冲突详情</a></p>
			<p>链接有效期：24小时</p>
		</body>
		</html>
	`, conflict.ID, conflict.TableName, conflict.PrimaryKey, link)

	return sendEmail(email, subject, body)
}

// sendEmail 发送邮件
func sendEmail(to, subject, body string) error {
	cfg := config.GlobalConfig.Email

	m := gomail.NewMessage()
	m.SetHeader("From", cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return d.DialAndSend(m)
}
