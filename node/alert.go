// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"crypto/tls"
	"fmt"

	mail "gopkg.in/gomail.v2"
)

func (n *Node) notify(subject, body string) {
	if n.alert == nil {
		return
	}
	err := n.alert(subject, body)
	if err != nil {
		n.msg.Printf("could not send alert %q: %+v", subject, err)
	}
}

// sendMail sends an alert mail, if a mail server is configured.
func (n *Node) sendMail(subject, body string) error {
	cfg := n.cfg.Mail
	if cfg.Server == "" || len(cfg.To) == 0 {
		return nil
	}

	from := cfg.From
	if from == "" {
		from = cfg.User
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("Bcc", cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[rtio] %s", subject))
	msg.SetBody("text/plain", body)

	dial := mail.NewDialer(cfg.Server, cfg.Port, cfg.User, cfg.Pass)
	dial.TLSConfig = &tls.Config{
		ServerName: cfg.Server,
	}
	err := dial.DialAndSend(msg)
	if err != nil {
		return fmt.Errorf("node: could not send mail alert: %w", err)
	}
	return nil
}
