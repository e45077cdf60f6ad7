package clone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.goms.io/aio/lifecycle/pkg/template"
	"go.goms.io/aio/lifecycle/pkg/utils"
)

const (
	lockFileName = ".aio-clone.lock"
	templatePerm = 0o644
)

// write stores the template under dir while holding the directory lock. In linked mode the root
// goes to <dir>/<base>.json and each linked template to <dir>/<base>/<kind>_<n>.json; linked files
// left over from an earlier clone of the same instance are removed.
func (e *Engine) write(ctx context.Context, dir, base string, tmpl *template.Template, linked *template.Linked) ([]string, error) {
	var files []string
	err := utils.WithFileLock(ctx, filepath.Join(dir, lockFileName), e.lockTimeout(), func() error {
		rootPath := filepath.Join(dir, base+".json")
		if linked == nil {
			data, err := tmpl.JSON()
			if err != nil {
				return err
			}
			if err := utils.WriteFileAtomic(rootPath, data, templatePerm); err != nil {
				return err
			}
			files = append(files, rootPath)
			return nil
		}

		if err := e.removeStale(filepath.Join(dir, base)); err != nil {
			return err
		}
		data, err := linked.RootJSON()
		if err != nil {
			return err
		}
		if err := utils.WriteFileAtomic(rootPath, data, templatePerm); err != nil {
			return err
		}
		files = append(files, rootPath)

		for _, lt := range linked.Templates {
			data, err := lt.JSON()
			if err != nil {
				return err
			}
			p := filepath.Join(dir, filepath.FromSlash(lt.Path))
			if err := utils.WriteFileAtomic(p, data, templatePerm); err != nil {
				return err
			}
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write templates to %s: %w", dir, err)
	}
	e.logger.Infof("Wrote %d template files to %s", len(files), dir)
	return files, nil
}

func (e *Engine) removeStale(linkedDir string) error {
	if !utils.DirectoryExists(linkedDir) {
		return nil
	}
	stale, err := filepath.Glob(filepath.Join(linkedDir, "*.json"))
	if err != nil {
		return err
	}
	if errs := utils.RemoveFiles(stale, e.logger); len(errs) > 0 {
		return errs[0]
	}
	if err := os.Remove(linkedDir); err != nil && !os.IsNotExist(err) {
		e.logger.Debugf("Keeping linked template directory %s: %v", linkedDir, err)
	}
	return nil
}
