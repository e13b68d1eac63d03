package vlmbench

import (
	"github.com/spf13/cobra"

	"github.com/mwiater/vlmbench/internal/imageprep"
	"github.com/mwiater/vlmbench/internal/logging"
)

// imagesCmd converts source images into the JPEG fixtures used by image mode.
var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Resize fixture images to a fixed height and save them as JPEG",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig().Images
		conversions, err := imageprep.ConvertDir(imageprep.Options{
			Dir:          cfg.Dir,
			Pattern:      cfg.Pattern,
			TargetHeight: cfg.TargetHeight,
			Quality:      cfg.Quality,
		})
		for _, c := range conversions {
			cmd.Println(c.String())
		}
		if err != nil {
			return err
		}
		logging.LogEvent("images: converted %d files in %s", len(conversions), cfg.Dir)
		cmd.Printf("Converted %d images.\n", len(conversions))
		return nil
	},
}

func init() {
	f := imagesCmd.Flags()
	f.String("dir", "data", "directory holding the source images")
	f.String("pattern", imageprep.DefaultPattern, "source image glob")
	f.Int("height", imageprep.DefaultTargetHeight, "target height in pixels")
	f.Int("quality", imageprep.DefaultQuality, "JPEG quality")
	bindFlag(imagesCmd, "dir", "images.dir")
	bindFlag(imagesCmd, "pattern", "images.pattern")
	bindFlag(imagesCmd, "height", "images.targetHeight")
	bindFlag(imagesCmd, "quality", "images.quality")
	rootCmd.AddCommand(imagesCmd)
}
