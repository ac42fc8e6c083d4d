package devserver

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type uploadRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type answerRequest struct {
	QuestionID string `json:"questionId"`
	Content    string `json:"content"`
}

// listKey is the JSON field carrying a brief list for each kind.
func listKey(k kind) string {
	return string(k) + "Briefs"
}

func (s *Server) uploadDocument(k kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req uploadRequest
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
			return fail(c, fiber.StatusBadRequest, "title and content are required")
		}
		id := s.data.addDocument(k, req.Title, req.Content, callerEmail(c), s.cfg.Now())
		return c.JSON(fiber.Map{"id": id})
	}
}

func (s *Server) getDocument(k kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		d, ok := s.data.document(k, c.Params("id"))
		if !ok {
			return fail(c, fiber.StatusNotFound, string(k)+" not found")
		}
		return c.JSON(fiber.Map{
			"title":       d.Title,
			"content":     d.Content,
			"authorEmail": d.AuthorEmail,
			"createdTime": d.CreatedTime,
		})
	}
}

func (s *Server) documentsByUser(k kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := strings.ToLower(strings.TrimSpace(c.Query("email")))
		if email == "" {
			return fail(c, fiber.StatusBadRequest, "email is required")
		}
		briefs := s.data.briefs(k, func(d *document) bool { return d.AuthorEmail == email })
		return c.JSON(fiber.Map{listKey(k): briefs})
	}
}

func (s *Server) latestDocuments(k kind) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		if offset < 0 {
			offset = 0
		}
		briefs := s.data.briefs(k, nil)
		start := min(offset, len(briefs))
		end := min(start+s.cfg.PageSize, len(briefs))
		return c.JSON(fiber.Map{listKey(k): briefs[start:end]})
	}
}

// uploadAnswer handles POST /api/answer/upload.
func (s *Server) uploadAnswer(c *fiber.Ctx) error {
	var req answerRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.QuestionID == "" || strings.TrimSpace(req.Content) == "" {
		return fail(c, fiber.StatusBadRequest, "questionId and content are required")
	}
	if _, ok := s.data.addAnswer(req.QuestionID, req.Content, callerEmail(c), s.cfg.Now()); !ok {
		return fail(c, fiber.StatusNotFound, "question not found")
	}
	return c.JSON(fiber.Map{})
}

// answersByQuestion handles GET /api/answer/by-question/:id.
func (s *Server) answersByQuestion(c *fiber.Ctx) error {
	answers, ok := s.data.answersFor(c.Params("id"))
	if !ok {
		return fail(c, fiber.StatusNotFound, "question not found")
	}
	return c.JSON(fiber.Map{"answers": answers})
}

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// uploadImage handles POST /api/image/upload with multipart field "image".
func (s *Server) uploadImage(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "image file is required")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	contentType, ok := imageTypes[ext]
	if !ok {
		return fail(c, fiber.StatusBadRequest, "only jpg, jpeg and png images are accepted")
	}
	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	name := id + ext
	s.data.putImage(name, image{contentType: contentType, data: data})
	s.logger.Debug().Str("image", name).Int("bytes", len(data)).Str("email", callerEmail(c)).Msg("image stored")
	return c.JSON(fiber.Map{"id": id, "url": "/images/" + name})
}

// getImage handles GET /images/:name.
func (s *Server) getImage(c *fiber.Ctx) error {
	img, ok := s.data.image(c.Params("name"))
	if !ok {
		return fail(c, fiber.StatusNotFound, "image not found")
	}
	c.Set(fiber.HeaderContentType, img.contentType)
	return c.Send(img.data)
}
